// Package handoff implements the handoff request lifecycle: admission
// control, the pending→assigned→active→completed state machine with
// optimistic conditional writes, and the timeout sweep.
package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/store"
	"github.com/BaSui01/advisorflow/types"
)

// EventSink receives domain events emitted by the controller.
type EventSink interface {
	PublishEvent(ctx context.Context, event *types.HandoffEvent) error
}

// Controller drives handoff state transitions. All mutations are
// conditional writes keyed on the observed status, so concurrent
// callers race cleanly without locks.
type Controller struct {
	store   store.HandoffStore
	events  EventSink
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     config.HandoffConfig

	// now is swappable for tests
	now func() time.Time

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
	startOnce   sync.Once
}

// NewController creates a handoff controller.
func NewController(s store.HandoffStore, events EventSink, collector *metrics.Collector, logger *zap.Logger, cfg config.HandoffConfig) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:   s,
		events:  events,
		metrics: collector,
		logger:  logger.With(zap.String("component", "handoff_controller")),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Create validates and persists a new handoff request in status pending.
// Admission control rejects with QueueFull once the pending count has
// reached the configured maximum.
func (c *Controller) Create(ctx context.Context, req *types.CreateHandoffRequest) (*types.HandoffRequest, error) {
	if result := ValidateCreateRequest(req); !result.Valid {
		return nil, result.AsError()
	}

	if c.cfg.MaxQueueSize > 0 {
		pending, err := c.store.CountByStatus(ctx, types.HandoffPending)
		if err != nil {
			return nil, types.NewError(types.ErrTransientInfra, "failed to check queue depth").
				WithCause(err).WithRetryable(true).WithHTTPStatus(503)
		}
		if pending >= int64(c.cfg.MaxQueueSize) {
			return nil, types.NewError(types.ErrQueueFull, "handoff queue is full").
				WithHTTPStatus(429).
				WithMeta("max_queue_size", c.cfg.MaxQueueSize)
		}
	}

	now := c.now()
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}

	record := &types.HandoffRequest{
		QueueID:        uuid.New().String(),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Status:         types.HandoffPending,
		Priority:       priority,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       req.Metadata,
		TTL:            now.Add(c.cfg.RequestTTL),
	}

	if result := ValidateQueueItem(record, now, c.cfg.MaxTTLHorizon); !result.Valid {
		return nil, result.AsError()
	}

	if err := c.store.Create(ctx, record); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// UUID collision is vanishingly rare; surface as conflict
			return nil, types.NewError(types.ErrConflict, "duplicate queue id").
				WithHTTPStatus(409)
		}
		return nil, types.NewError(types.ErrTransientInfra, "failed to persist handoff").
			WithCause(err).WithRetryable(true).WithHTTPStatus(503)
	}

	c.metrics.RecordHandoffCreated(string(priority))
	c.logger.Info("handoff created",
		zap.String("queue_id", record.QueueID),
		zap.String("user_id", record.UserID),
		zap.String("priority", string(priority)),
	)

	depth, err := c.store.CountByStatus(ctx, types.HandoffPending)
	if err != nil {
		c.logger.Warn("pending depth unavailable for event",
			zap.String("queue_id", record.QueueID), zap.Error(err))
		depth = 0
	}
	c.publish(ctx, &types.HandoffEvent{
		Type:    types.EventHandoffRequested,
		QueueID: record.QueueID,
		UserID:  record.UserID,
		Detail: types.EventDetail{
			Requested: &types.RequestedDetail{
				ConversationID: record.ConversationID,
				Priority:       priority,
				PendingDepth:   depth,
			},
		},
		Timestamp: now,
	})

	return record, nil
}

// Assign claims a pending handoff for an advisor. Exactly one of any
// set of concurrent callers wins; losers receive an already-assigned
// conflict and should re-poll the pending list instead of retrying.
func (c *Controller) Assign(ctx context.Context, queueID, advisorID string) (*types.HandoffRequest, error) {
	if queueID == "" || advisorID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "queue_id and advisor_id are required").
			WithHTTPStatus(400)
	}

	record, err := c.store.UpdateStatus(ctx, queueID, store.HandoffUpdate{
		ExpectedStatus: types.HandoffPending,
		NewStatus:      types.HandoffAssigned,
		AdvisorID:      advisorID,
	})
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			c.metrics.RecordAssignmentConflict()
			return nil, types.NewError(types.ErrAlreadyAssigned, "handoff is no longer pending").
				WithHTTPStatus(409).
				WithMeta("queue_id", queueID)
		}
		return nil, c.mapStoreError(err, queueID)
	}

	waitTime := c.now().Sub(record.CreatedAt)
	c.metrics.RecordHandoffAssigned(waitTime)
	c.logger.Info("handoff assigned",
		zap.String("queue_id", queueID),
		zap.String("advisor_id", advisorID),
		zap.Duration("wait_time", waitTime),
	)

	c.publish(ctx, &types.HandoffEvent{
		Type:      types.EventAdvisorAssigned,
		QueueID:   queueID,
		UserID:    record.UserID,
		AdvisorID: advisorID,
		Detail: types.EventDetail{
			Assigned: &types.AssignedDetail{WaitTime: waitTime},
		},
		Timestamp: c.now(),
	})

	return record, nil
}

// Start moves an assigned handoff into the active conversation state.
func (c *Controller) Start(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	record, err := c.store.UpdateStatus(ctx, queueID, store.HandoffUpdate{
		ExpectedStatus: types.HandoffAssigned,
		NewStatus:      types.HandoffActive,
	})
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, types.NewError(types.ErrConflict, "handoff is not in assigned state").
				WithHTTPStatus(409).
				WithMeta("queue_id", queueID)
		}
		return nil, c.mapStoreError(err, queueID)
	}

	c.logger.Info("handoff started", zap.String("queue_id", queueID))
	c.publish(ctx, &types.HandoffEvent{
		Type:      types.EventHandoffStarted,
		QueueID:   queueID,
		UserID:    record.UserID,
		AdvisorID: record.AdvisorID,
		Timestamp: c.now(),
	})
	return record, nil
}

// Complete finishes a handoff. Allowed only from assigned or active;
// any other state returns an error without mutating the record.
func (c *Controller) Complete(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	current, err := c.store.Get(ctx, queueID)
	if err != nil {
		return nil, c.mapStoreError(err, queueID)
	}
	if current.Status != types.HandoffAssigned && current.Status != types.HandoffActive {
		return nil, types.NewError(types.ErrConflict, "handoff can only be completed from assigned or active").
			WithHTTPStatus(409).
			WithMeta("status", string(current.Status))
	}

	record, err := c.store.UpdateStatus(ctx, queueID, store.HandoffUpdate{
		ExpectedStatus: current.Status,
		NewStatus:      types.HandoffCompleted,
	})
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, types.NewError(types.ErrConflict, "handoff state changed concurrently").
				WithHTTPStatus(409)
		}
		return nil, c.mapStoreError(err, queueID)
	}

	resolution := c.now().Sub(record.CreatedAt)
	c.metrics.RecordHandoffCompleted(resolution)
	c.logger.Info("handoff completed",
		zap.String("queue_id", queueID),
		zap.Duration("resolution_time", resolution),
	)

	c.publish(ctx, &types.HandoffEvent{
		Type:      types.EventHandoffCompleted,
		QueueID:   queueID,
		UserID:    record.UserID,
		AdvisorID: record.AdvisorID,
		Detail: types.EventDetail{
			Status: &types.StatusDetail{From: current.Status, To: types.HandoffCompleted},
		},
		Timestamp: c.now(),
	})
	return record, nil
}

// Cancel is the explicit escape transition from any non-terminal state.
func (c *Controller) Cancel(ctx context.Context, queueID, reason string) (*types.HandoffRequest, error) {
	current, err := c.store.Get(ctx, queueID)
	if err != nil {
		return nil, c.mapStoreError(err, queueID)
	}
	if !current.Status.CanTransitionTo(types.HandoffCancelled) {
		return nil, types.NewError(types.ErrConflict, "handoff is already in a terminal state").
			WithHTTPStatus(409).
			WithMeta("status", string(current.Status))
	}

	record, err := c.store.UpdateStatus(ctx, queueID, store.HandoffUpdate{
		ExpectedStatus: current.Status,
		NewStatus:      types.HandoffCancelled,
		Reason:         reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return nil, types.NewError(types.ErrConflict, "handoff state changed concurrently").
				WithHTTPStatus(409)
		}
		return nil, c.mapStoreError(err, queueID)
	}

	c.logger.Info("handoff cancelled",
		zap.String("queue_id", queueID),
		zap.String("reason", reason),
	)
	c.publish(ctx, &types.HandoffEvent{
		Type:      types.EventStatusUpdated,
		QueueID:   queueID,
		UserID:    record.UserID,
		AdvisorID: record.AdvisorID,
		Detail: types.EventDetail{
			Status: &types.StatusDetail{From: current.Status, To: types.HandoffCancelled, Reason: reason},
		},
		Timestamp: c.now(),
	})
	return record, nil
}

// Get returns a single handoff record.
func (c *Controller) Get(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	record, err := c.store.Get(ctx, queueID)
	if err != nil {
		return nil, c.mapStoreError(err, queueID)
	}
	return record, nil
}

// ListByStatus returns handoffs in the given status, oldest first.
func (c *Controller) ListByStatus(ctx context.Context, status types.HandoffStatus, limit int) ([]*types.HandoffRequest, error) {
	if !status.IsValid() {
		return nil, types.NewError(types.ErrInvalidRequest, "unknown status").
			WithHTTPStatus(400).
			WithMeta("status", string(status))
	}
	records, err := c.store.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, types.NewError(types.ErrTransientInfra, "failed to list handoffs").
			WithCause(err).WithRetryable(true).WithHTTPStatus(503)
	}
	return records, nil
}

// ListPending returns the pending queue, oldest first.
func (c *Controller) ListPending(ctx context.Context, limit int) ([]*types.HandoffRequest, error) {
	return c.ListByStatus(ctx, types.HandoffPending, limit)
}

// Stats returns per-status record counts.
func (c *Controller) Stats(ctx context.Context) (map[types.HandoffStatus]int64, error) {
	statuses := []types.HandoffStatus{
		types.HandoffPending,
		types.HandoffAssigned,
		types.HandoffActive,
		types.HandoffCompleted,
		types.HandoffCancelled,
		types.HandoffTimeout,
	}
	result := make(map[types.HandoffStatus]int64, len(statuses))
	for _, status := range statuses {
		count, err := c.store.CountByStatus(ctx, status)
		if err != nil {
			return nil, types.NewError(types.ErrTransientInfra, "failed to count handoffs").
				WithCause(err).WithRetryable(true).WithHTTPStatus(503)
		}
		result[status] = count
	}
	return result, nil
}

// SweepTimeouts transitions expired pending handoffs to timeout.
// Returns the number of records swept. A record that loses its CAS to
// a concurrent assignment is simply skipped.
func (c *Controller) SweepTimeouts(ctx context.Context) (int, error) {
	pending, err := c.store.ListByStatus(ctx, types.HandoffPending, 0)
	if err != nil {
		return 0, err
	}

	now := c.now()
	swept := 0
	for _, record := range pending {
		if record.TTL.After(now) {
			continue
		}
		updated, err := c.store.UpdateStatus(ctx, record.QueueID, store.HandoffUpdate{
			ExpectedStatus: types.HandoffPending,
			NewStatus:      types.HandoffTimeout,
			Reason:         "wait time exceeded",
		})
		if err != nil {
			if !errors.Is(err, store.ErrPreconditionFailed) && !errors.Is(err, store.ErrNotFound) {
				c.logger.Warn("timeout sweep failed for record",
					zap.String("queue_id", record.QueueID), zap.Error(err))
			}
			continue
		}
		swept++
		c.metrics.RecordHandoffTimeout()
		c.publish(ctx, &types.HandoffEvent{
			Type:    types.EventStatusUpdated,
			QueueID: updated.QueueID,
			UserID:  updated.UserID,
			Detail: types.EventDetail{
				Status: &types.StatusDetail{
					From:   types.HandoffPending,
					To:     types.HandoffTimeout,
					Reason: "wait time exceeded",
				},
			},
			Timestamp: now,
		})
	}

	if swept > 0 {
		c.logger.Info("timeout sweep finished", zap.Int("swept", swept))
	}
	return swept, nil
}

// StartSweeper runs the timeout sweep on the configured interval until
// Stop is called or ctx is cancelled.
func (c *Controller) StartSweeper(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.sweepCancel = context.WithCancel(ctx)
		c.sweepWG.Add(1)
		go func() {
			defer c.sweepWG.Done()
			interval := c.cfg.SweepInterval
			if interval <= 0 {
				interval = time.Minute
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := c.SweepTimeouts(ctx); err != nil {
						c.logger.Warn("timeout sweep failed", zap.Error(err))
					}
				}
			}
		}()
	})
}

// Stop halts the background sweeper.
func (c *Controller) Stop() {
	if c.sweepCancel != nil {
		c.sweepCancel()
	}
	c.sweepWG.Wait()
}

// publish emits the event best-effort: the mutation has already been
// committed, so a publish failure is logged, not surfaced.
func (c *Controller) publish(ctx context.Context, event *types.HandoffEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishEvent(ctx, event); err != nil {
		c.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("queue_id", event.QueueID),
			zap.Error(err),
		)
	}
}

func (c *Controller) mapStoreError(err error, queueID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.NewError(types.ErrNotFound, "handoff not found").
			WithHTTPStatus(404).
			WithMeta("queue_id", queueID)
	case errors.Is(err, store.ErrAlreadyExists):
		return types.NewError(types.ErrConflict, "handoff already exists").
			WithHTTPStatus(409).
			WithMeta("queue_id", queueID)
	default:
		return types.NewError(types.ErrTransientInfra, "storage operation failed").
			WithCause(err).WithRetryable(true).WithHTTPStatus(503)
	}
}
