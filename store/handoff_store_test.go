package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/advisorflow/types"
)

// newTestStores returns one store per backend so every case runs
// against both implementations.
func newTestStores(t *testing.T) map[string]HandoffStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]HandoffStore{
		"memory": NewMemoryHandoffStore(),
		"redis":  NewRedisHandoffStoreWithClient(client, "test:", 0),
	}
}

func newHandoff(queueID, userID string, status types.HandoffStatus, createdAt time.Time) *types.HandoffRequest {
	return &types.HandoffRequest{
		QueueID:        queueID,
		ConversationID: "conv-" + queueID,
		UserID:         userID,
		Status:         status,
		Priority:       types.PriorityMedium,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		TTL:            createdAt.Add(30 * time.Minute),
	}
}

func TestHandoffStore_CreateAndGet(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			req := newHandoff("q1", "user-1", types.HandoffPending, time.Now())

			require.NoError(t, s.Create(ctx, req))

			got, err := s.Get(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, "q1", got.QueueID)
			assert.Equal(t, "user-1", got.UserID)
			assert.Equal(t, types.HandoffPending, got.Status)
		})
	}
}

func TestHandoffStore_CreateDuplicate(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			req := newHandoff("q1", "user-1", types.HandoffPending, time.Now())

			require.NoError(t, s.Create(ctx, req))
			err := s.Create(ctx, req)
			assert.ErrorIs(t, err, ErrAlreadyExists)
		})
	}
}

func TestHandoffStore_GetNotFound(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHandoffStore_UpdateStatus(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "user-1", types.HandoffPending, time.Now())))

			got, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
				ExpectedStatus: types.HandoffPending,
				NewStatus:      types.HandoffAssigned,
				AdvisorID:      "advisor-7",
			})
			require.NoError(t, err)
			assert.Equal(t, types.HandoffAssigned, got.Status)
			assert.Equal(t, "advisor-7", got.AdvisorID)

			// The stored record reflects the update
			stored, err := s.Get(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, types.HandoffAssigned, stored.Status)
			assert.Equal(t, "advisor-7", stored.AdvisorID)
		})
	}
}

func TestHandoffStore_UpdateStatusPreconditionFailed(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "user-1", types.HandoffAssigned, time.Now())))

			_, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
				ExpectedStatus: types.HandoffPending,
				NewStatus:      types.HandoffAssigned,
				AdvisorID:      "advisor-9",
			})
			assert.ErrorIs(t, err, ErrPreconditionFailed)

			// The losing update must not touch the record
			stored, err := s.Get(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, types.HandoffAssigned, stored.Status)
			assert.Empty(t, stored.AdvisorID)
		})
	}
}

func TestHandoffStore_UpdateStatusNotFound(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateStatus(context.Background(), "missing", HandoffUpdate{
				ExpectedStatus: types.HandoffPending,
				NewStatus:      types.HandoffAssigned,
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHandoffStore_UpdateStatusRecordsReason(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "user-1", types.HandoffPending, time.Now())))

			got, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
				ExpectedStatus: types.HandoffPending,
				NewStatus:      types.HandoffCancelled,
				Reason:         "user gave up",
			})
			require.NoError(t, err)
			require.NotNil(t, got.Metadata)
			assert.Equal(t, "user gave up", got.Metadata.Extra["reason"])
		})
	}
}

// Assignment exclusivity: many racers CAS pending→assigned, exactly
// one must win.
func TestHandoffStore_ConcurrentAssignment(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "user-1", types.HandoffPending, time.Now())))

			const racers = 8
			var wg sync.WaitGroup
			wins := make(chan string, racers)

			for i := 0; i < racers; i++ {
				wg.Add(1)
				advisorID := "advisor-" + string(rune('a'+i))
				go func() {
					defer wg.Done()
					_, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
						ExpectedStatus: types.HandoffPending,
						NewStatus:      types.HandoffAssigned,
						AdvisorID:      advisorID,
					})
					if err == nil {
						wins <- advisorID
					}
				}()
			}
			wg.Wait()
			close(wins)

			winners := make([]string, 0, racers)
			for w := range wins {
				winners = append(winners, w)
			}
			require.Len(t, winners, 1, "exactly one racer must win the assignment")

			stored, err := s.Get(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, types.HandoffAssigned, stored.Status)
			assert.Equal(t, winners[0], stored.AdvisorID)
		})
	}
}

func TestHandoffStore_ListByStatus(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)
			require.NoError(t, s.Create(ctx, newHandoff("q2", "u2", types.HandoffPending, base.Add(2*time.Minute))))
			require.NoError(t, s.Create(ctx, newHandoff("q1", "u1", types.HandoffPending, base.Add(time.Minute))))
			require.NoError(t, s.Create(ctx, newHandoff("q3", "u3", types.HandoffAssigned, base.Add(3*time.Minute))))

			pending, err := s.ListByStatus(ctx, types.HandoffPending, 0)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			// Oldest first
			assert.Equal(t, "q1", pending[0].QueueID)
			assert.Equal(t, "q2", pending[1].QueueID)

			limited, err := s.ListByStatus(ctx, types.HandoffPending, 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "q1", limited[0].QueueID)
		})
	}
}

func TestHandoffStore_ListByAdvisorAndUser(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)
			require.NoError(t, s.Create(ctx, newHandoff("q1", "user-1", types.HandoffPending, base.Add(time.Minute))))
			require.NoError(t, s.Create(ctx, newHandoff("q2", "user-1", types.HandoffPending, base.Add(2*time.Minute))))

			_, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
				ExpectedStatus: types.HandoffPending,
				NewStatus:      types.HandoffAssigned,
				AdvisorID:      "advisor-1",
			})
			require.NoError(t, err)

			byAdvisor, err := s.ListByAdvisor(ctx, "advisor-1", 0)
			require.NoError(t, err)
			require.Len(t, byAdvisor, 1)
			assert.Equal(t, "q1", byAdvisor[0].QueueID)

			byUser, err := s.ListByUser(ctx, "user-1", 0)
			require.NoError(t, err)
			require.Len(t, byUser, 2)
			// Newest first
			assert.Equal(t, "q2", byUser[0].QueueID)
		})
	}
}

func TestHandoffStore_CountByStatus(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "u1", types.HandoffPending, now)))
			require.NoError(t, s.Create(ctx, newHandoff("q2", "u2", types.HandoffPending, now)))

			count, err := s.CountByStatus(ctx, types.HandoffPending)
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)

			count, err = s.CountByStatus(ctx, types.HandoffCompleted)
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)
		})
	}
}

func TestHandoffStore_Delete(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newHandoff("q1", "u1", types.HandoffPending, time.Now())))
			require.NoError(t, s.Delete(ctx, "q1"))

			_, err := s.Get(ctx, "q1")
			assert.ErrorIs(t, err, ErrNotFound)

			count, err := s.CountByStatus(ctx, types.HandoffPending)
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)
		})
	}
}

func TestRedisHandoffStore_TerminalRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisHandoffStoreWithClient(client, "test:", time.Minute)
	ctx := context.Background()

	req := newHandoff("q1", "u1", types.HandoffPending, time.Now())
	require.NoError(t, s.Create(ctx, req))
	_, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
		ExpectedStatus: types.HandoffPending,
		NewStatus:      types.HandoffCancelled,
	})
	require.NoError(t, err)

	// Terminal record is still readable inside the retention window
	_, err = s.Get(ctx, "q1")
	require.NoError(t, err)

	// ...and gone once the window elapses
	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "q1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Expired entries are skipped by index scans
	cancelled, err := s.ListByStatus(ctx, types.HandoffCancelled, 0)
	require.NoError(t, err)
	assert.Empty(t, cancelled)

	// ...and pruned from the index, so counts do not drift
	count, err := s.CountByStatus(ctx, types.HandoffCancelled)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisHandoffStore_UserIndexPrunedAfterRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisHandoffStoreWithClient(client, "test:", time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newHandoff("q1", "u1", types.HandoffPending, time.Now())))
	require.NoError(t, s.Create(ctx, newHandoff("q2", "u1", types.HandoffPending, time.Now())))
	_, err := s.UpdateStatus(ctx, "q1", HandoffUpdate{
		ExpectedStatus: types.HandoffPending,
		NewStatus:      types.HandoffCompleted,
	})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	// The expired record disappears from user listings; the live one stays
	byUser, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "q2", byUser[0].QueueID)

	// The dangling member was removed, not just skipped
	remaining, err := client.ZCard(ctx, "test:handoff:user:u1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)
}
