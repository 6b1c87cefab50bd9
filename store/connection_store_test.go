package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/advisorflow/types"
)

func newTestConnStores(t *testing.T) map[string]ConnectionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]ConnectionStore{
		"memory": NewMemoryConnectionStore(),
		"redis":  NewRedisConnectionStore(client, "test:"),
	}
}

func newConn(id, userID string, lastActivity time.Time) *types.Connection {
	return &types.Connection{
		ConnectionID: id,
		UserID:       userID,
		Status:       types.ConnectionConnected,
		LastActivity: lastActivity,
		Metadata:     &types.ConnectionMetadata{Platform: "web"},
		TTL:          lastActivity.Add(time.Hour),
	}
}

func TestConnectionStore_SaveAndGet(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, newConn("c1", "user-1", time.Now())))

			got, err := s.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "user-1", got.UserID)
			assert.Equal(t, types.ConnectionConnected, got.Status)
			require.NotNil(t, got.Metadata)
			assert.Equal(t, "web", got.Metadata.Platform)
		})
	}
}

func TestConnectionStore_GetNotFound(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestConnectionStore_GetByUser(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, s.Save(ctx, newConn("c1", "user-1", now)))
			require.NoError(t, s.Save(ctx, newConn("c2", "user-1", now)))
			require.NoError(t, s.Save(ctx, newConn("c3", "user-2", now)))

			conns, err := s.GetByUser(ctx, "user-1")
			require.NoError(t, err)
			assert.Len(t, conns, 2)

			conns, err = s.GetByUser(ctx, "user-3")
			require.NoError(t, err)
			assert.Empty(t, conns)
		})
	}
}

func TestConnectionStore_Touch(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-time.Hour)
			require.NoError(t, s.Save(ctx, newConn("c1", "user-1", old)))

			now := time.Now()
			require.NoError(t, s.Touch(ctx, "c1", now))

			got, err := s.Get(ctx, "c1")
			require.NoError(t, err)
			assert.WithinDuration(t, now, got.LastActivity, time.Second)

			assert.ErrorIs(t, s.Touch(ctx, "missing", now), ErrNotFound)
		})
	}
}

func TestConnectionStore_ListStale(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, s.Save(ctx, newConn("old", "user-1", now.Add(-20*time.Minute))))
			require.NoError(t, s.Save(ctx, newConn("fresh", "user-2", now)))

			stale, err := s.ListStale(ctx, now.Add(-10*time.Minute))
			require.NoError(t, err)
			require.Len(t, stale, 1)
			assert.Equal(t, "old", stale[0].ConnectionID)
		})
	}
}

func TestConnectionStore_RemoveAndCount(t *testing.T) {
	for name, s := range newTestConnStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, s.Save(ctx, newConn("c1", "user-1", now)))
			require.NoError(t, s.Save(ctx, newConn("c2", "user-2", now)))

			count, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)

			require.NoError(t, s.Remove(ctx, "c1"))
			_, err = s.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Removing an absent connection is not an error
			require.NoError(t, s.Remove(ctx, "missing"))

			count, err = s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			conns, err := s.GetByUser(ctx, "user-1")
			require.NoError(t, err)
			assert.Empty(t, conns)
		})
	}
}
