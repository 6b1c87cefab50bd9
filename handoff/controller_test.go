package handoff

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/store"
	"github.com/BaSui01/advisorflow/types"
)

var ctrlTestSeq atomic.Int64

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []*types.HandoffEvent
}

func (s *recordingSink) PublishEvent(ctx context.Context, event *types.HandoffEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byType(t types.EventType) []*types.HandoffEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.HandoffEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestController(t *testing.T, cfg config.HandoffConfig) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	collector := metrics.NewCollector(
		fmt.Sprintf("handoff_ctrl_test_%d", ctrlTestSeq.Add(1)), zap.NewNop())
	ctrl := NewController(store.NewMemoryHandoffStore(), sink, collector, zap.NewNop(), cfg)
	return ctrl, sink
}

func defaultTestConfig() config.HandoffConfig {
	cfg := config.DefaultHandoffConfig()
	cfg.MaxQueueSize = 10
	return cfg
}

func TestController_Create(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{
		ConversationID: "c1",
		UserID:         "u1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.QueueID)
	assert.Equal(t, types.HandoffPending, record.Status)
	assert.Equal(t, types.PriorityMedium, record.Priority)
	assert.True(t, record.TTL.After(time.Now()))

	// Fresh queue IDs for every create
	second, err := ctrl.Create(ctx, &types.CreateHandoffRequest{
		ConversationID: "c2",
		UserID:         "u2",
	})
	require.NoError(t, err)
	assert.NotEqual(t, record.QueueID, second.QueueID)

	events := sink.byType(types.EventHandoffRequested)
	require.Len(t, events, 2)
	assert.Equal(t, record.QueueID, events[0].QueueID)
	require.NotNil(t, events[0].Detail.Requested)
	assert.Equal(t, "c1", events[0].Detail.Requested.ConversationID)
}

func TestController_CreateValidationFailure(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())

	_, err := ctrl.Create(context.Background(), &types.CreateHandoffRequest{UserID: "u1"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidationFailed))
	assert.Empty(t, sink.events)
}

func TestController_AdmissionControl(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxQueueSize = 2
	ctrl, _ := newTestController(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := ctrl.Create(ctx, &types.CreateHandoffRequest{
			ConversationID: fmt.Sprintf("c%d", i), UserID: "u1",
		})
		require.NoError(t, err)
	}

	_, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c3", UserID: "u1"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrQueueFull))

	// Once a pending record leaves the state, admission reopens
	pending, err := ctrl.ListPending(ctx, 1)
	require.NoError(t, err)
	_, err = ctrl.Assign(ctx, pending[0].QueueID, "advisor-1")
	require.NoError(t, err)

	_, err = ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c3", UserID: "u1"})
	assert.NoError(t, err)
}

func TestController_Assign(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)

	assigned, err := ctrl.Assign(ctx, record.QueueID, "advisor-1")
	require.NoError(t, err)
	assert.Equal(t, types.HandoffAssigned, assigned.Status)
	assert.Equal(t, "advisor-1", assigned.AdvisorID)

	events := sink.byType(types.EventAdvisorAssigned)
	require.Len(t, events, 1)
	assert.Equal(t, "advisor-1", events[0].AdvisorID)
	require.NotNil(t, events[0].Detail.Assigned)

	// Second assignment attempt loses
	_, err = ctrl.Assign(ctx, record.QueueID, "advisor-2")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAlreadyAssigned))

	// The loser must not have mutated the record
	got, err := ctrl.Get(ctx, record.QueueID)
	require.NoError(t, err)
	assert.Equal(t, "advisor-1", got.AdvisorID)
}

func TestController_AssignNotFound(t *testing.T) {
	ctrl, _ := newTestController(t, defaultTestConfig())
	_, err := ctrl.Assign(context.Background(), "missing", "advisor-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

// Assignment exclusivity under concurrency: exactly one winner.
func TestController_ConcurrentAssign(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)

	const racers = 10
	var wg sync.WaitGroup
	var successes atomic.Int64
	var conflicts atomic.Int64

	for i := 0; i < racers; i++ {
		wg.Add(1)
		advisorID := fmt.Sprintf("advisor-%d", i)
		go func() {
			defer wg.Done()
			_, err := ctrl.Assign(ctx, record.QueueID, advisorID)
			if err == nil {
				successes.Add(1)
				return
			}
			if types.IsCode(err, types.ErrAlreadyAssigned) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(racers-1), conflicts.Load())
	assert.Len(t, sink.byType(types.EventAdvisorAssigned), 1)
}

func TestController_StartAndComplete(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	_, err = ctrl.Assign(ctx, record.QueueID, "advisor-1")
	require.NoError(t, err)

	started, err := ctrl.Start(ctx, record.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffActive, started.Status)
	assert.Len(t, sink.byType(types.EventHandoffStarted), 1)

	completed, err := ctrl.Complete(ctx, record.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCompleted, completed.Status)

	events := sink.byType(types.EventHandoffCompleted)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Detail.Status)
	assert.Equal(t, types.HandoffActive, events[0].Detail.Status.From)
}

func TestController_CompleteFromAssigned(t *testing.T) {
	ctrl, _ := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	_, err = ctrl.Assign(ctx, record.QueueID, "advisor-1")
	require.NoError(t, err)

	completed, err := ctrl.Complete(ctx, record.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCompleted, completed.Status)
}

func TestController_CompleteRejectsWrongState(t *testing.T) {
	ctrl, _ := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)

	// Pending cannot be completed
	_, err = ctrl.Complete(ctx, record.QueueID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))

	got, err := ctrl.Get(ctx, record.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffPending, got.Status)

	// Completed cannot be completed again
	_, err = ctrl.Assign(ctx, record.QueueID, "advisor-1")
	require.NoError(t, err)
	_, err = ctrl.Complete(ctx, record.QueueID)
	require.NoError(t, err)
	_, err = ctrl.Complete(ctx, record.QueueID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestController_Cancel(t *testing.T) {
	ctrl, sink := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	record, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)

	cancelled, err := ctrl.Cancel(ctx, record.QueueID, "user left")
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Metadata)
	assert.Equal(t, "user left", cancelled.Metadata.Extra["reason"])

	events := sink.byType(types.EventStatusUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, "user left", events[0].Detail.Status.Reason)

	// Terminal records cannot be cancelled again
	_, err = ctrl.Cancel(ctx, record.QueueID, "again")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConflict))
}

func TestController_SweepTimeouts(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RequestTTL = 10 * time.Minute
	ctrl, sink := newTestController(t, cfg)
	ctx := context.Background()

	expired, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	fresh, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c2", UserID: "u2"})
	require.NoError(t, err)

	// Advance the controller clock past the first record's TTL window
	ctrl.now = func() time.Time { return time.Now().Add(cfg.RequestTTL + time.Minute) }

	// The fresh record gets assigned before its TTL matters
	_, err = ctrl.Assign(ctx, fresh.QueueID, "advisor-1")
	require.NoError(t, err)

	swept, err := ctrl.SweepTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := ctrl.Get(ctx, expired.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffTimeout, got.Status)

	got, err = ctrl.Get(ctx, fresh.QueueID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffAssigned, got.Status)

	var timeoutEvents int
	for _, e := range sink.byType(types.EventStatusUpdated) {
		if e.Detail.Status != nil && e.Detail.Status.To == types.HandoffTimeout {
			timeoutEvents++
		}
	}
	assert.Equal(t, 1, timeoutEvents)
}

func TestController_Stats(t *testing.T) {
	ctrl, _ := newTestController(t, defaultTestConfig())
	ctx := context.Background()

	a, err := ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c1", UserID: "u1"})
	require.NoError(t, err)
	_, err = ctrl.Create(ctx, &types.CreateHandoffRequest{ConversationID: "c2", UserID: "u2"})
	require.NoError(t, err)
	_, err = ctrl.Assign(ctx, a.QueueID, "advisor-1")
	require.NoError(t, err)

	stats, err := ctrl.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[types.HandoffPending])
	assert.Equal(t, int64(1), stats[types.HandoffAssigned])
	assert.Equal(t, int64(0), stats[types.HandoffCompleted])
}

func TestController_ListByStatusRejectsUnknown(t *testing.T) {
	ctrl, _ := newTestController(t, defaultTestConfig())
	_, err := ctrl.ListByStatus(context.Background(), "limbo", 0)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

// countFailStore 让深度统计失败，其余操作透传。
type countFailStore struct {
	store.HandoffStore
}

func (s *countFailStore) CountByStatus(ctx context.Context, status types.HandoffStatus) (int64, error) {
	return 0, assert.AnError
}

func TestController_CreateSurvivesDepthCountFailure(t *testing.T) {
	sink := &recordingSink{}
	collector := metrics.NewCollector(
		fmt.Sprintf("handoff_ctrl_test_%d", ctrlTestSeq.Add(1)), zap.NewNop())
	cfg := defaultTestConfig()
	cfg.MaxQueueSize = 0 // 不启用入队上限，统计只服务于事件深度
	ctrl := NewController(&countFailStore{store.NewMemoryHandoffStore()}, sink, collector, zap.NewNop(), cfg)

	record, err := ctrl.Create(context.Background(), &types.CreateHandoffRequest{
		ConversationID: "c1",
		UserID:         "u1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.QueueID)

	// 事件仍然发布，深度字段退化为零值
	events := sink.byType(types.EventHandoffRequested)
	require.Len(t, events, 1)
	assert.Zero(t, events[0].Detail.Requested.PendingDepth)
}
