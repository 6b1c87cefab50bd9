package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/advisorflow/types"
)

// MemoryHandoffStore is an in-memory implementation of HandoffStore.
// Suitable for development and testing.
type MemoryHandoffStore struct {
	mu      sync.RWMutex
	records map[string]*types.HandoffRequest
	closed  bool
}

// NewMemoryHandoffStore creates a new in-memory handoff store
func NewMemoryHandoffStore() *MemoryHandoffStore {
	return &MemoryHandoffStore{
		records: make(map[string]*types.HandoffRequest),
	}
}

// cloneHandoff returns a deep copy so callers cannot mutate stored state
func cloneHandoff(req *types.HandoffRequest) *types.HandoffRequest {
	cp := *req
	if req.Metadata != nil {
		meta := *req.Metadata
		if req.Metadata.UserInfo != nil {
			ui := *req.Metadata.UserInfo
			meta.UserInfo = &ui
		}
		if req.Metadata.Context != nil {
			rc := *req.Metadata.Context
			meta.Context = &rc
		}
		if req.Metadata.Metrics != nil {
			rm := *req.Metadata.Metrics
			meta.Metrics = &rm
		}
		if req.Metadata.Extra != nil {
			extra := make(map[string]string, len(req.Metadata.Extra))
			for k, v := range req.Metadata.Extra {
				extra[k] = v
			}
			meta.Extra = extra
		}
		cp.Metadata = &meta
	}
	return &cp
}

// Create inserts a new handoff record
func (s *MemoryHandoffStore) Create(ctx context.Context, req *types.HandoffRequest) error {
	if req == nil || req.QueueID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.records[req.QueueID]; ok {
		return ErrAlreadyExists
	}
	s.records[req.QueueID] = cloneHandoff(req)
	return nil
}

// Get retrieves a handoff record by queue ID
func (s *MemoryHandoffStore) Get(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	req, ok := s.records[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneHandoff(req), nil
}

// UpdateStatus applies a conditional status transition
func (s *MemoryHandoffStore) UpdateStatus(ctx context.Context, queueID string, update HandoffUpdate) (*types.HandoffRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	req, ok := s.records[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != update.ExpectedStatus {
		return nil, ErrPreconditionFailed
	}

	req.Status = update.NewStatus
	req.UpdatedAt = time.Now()
	if update.AdvisorID != "" {
		req.AdvisorID = update.AdvisorID
	}
	if update.Reason != "" {
		if req.Metadata == nil {
			req.Metadata = &types.HandoffMetadata{}
		}
		if req.Metadata.Extra == nil {
			req.Metadata.Extra = make(map[string]string)
		}
		req.Metadata.Extra["reason"] = update.Reason
	}
	return cloneHandoff(req), nil
}

// ListByStatus returns records in the given status, oldest first
func (s *MemoryHandoffStore) ListByStatus(ctx context.Context, status types.HandoffStatus, limit int) ([]*types.HandoffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*types.HandoffRequest, 0)
	for _, req := range s.records {
		if req.Status == status {
			result = append(result, cloneHandoff(req))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// ListByAdvisor returns records assigned to the advisor, newest first
func (s *MemoryHandoffStore) ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]*types.HandoffRequest, error) {
	return s.listByField(func(r *types.HandoffRequest) bool { return r.AdvisorID == advisorID }, limit)
}

// ListByUser returns the user's records, newest first
func (s *MemoryHandoffStore) ListByUser(ctx context.Context, userID string, limit int) ([]*types.HandoffRequest, error) {
	return s.listByField(func(r *types.HandoffRequest) bool { return r.UserID == userID }, limit)
}

func (s *MemoryHandoffStore) listByField(match func(*types.HandoffRequest) bool, limit int) ([]*types.HandoffRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*types.HandoffRequest, 0)
	for _, req := range s.records {
		if match(req) {
			result = append(result, cloneHandoff(req))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// CountByStatus returns the number of records in the given status
func (s *MemoryHandoffStore) CountByStatus(ctx context.Context, status types.HandoffStatus) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var count int64
	for _, req := range s.records {
		if req.Status == status {
			count++
		}
	}
	return count, nil
}

// Delete removes a record
func (s *MemoryHandoffStore) Delete(ctx context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.records[queueID]; !ok {
		return ErrNotFound
	}
	delete(s.records, queueID)
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryHandoffStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed
func (s *MemoryHandoffStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure MemoryHandoffStore implements HandoffStore
var _ HandoffStore = (*MemoryHandoffStore)(nil)
