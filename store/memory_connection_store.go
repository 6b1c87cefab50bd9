package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/advisorflow/types"
)

// MemoryConnectionStore is an in-memory implementation of ConnectionStore.
type MemoryConnectionStore struct {
	mu     sync.RWMutex
	conns  map[string]*types.Connection
	closed bool
}

// NewMemoryConnectionStore creates a new in-memory connection store
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		conns: make(map[string]*types.Connection),
	}
}

func cloneConnection(conn *types.Connection) *types.Connection {
	cp := *conn
	if conn.Metadata != nil {
		meta := *conn.Metadata
		cp.Metadata = &meta
	}
	return &cp
}

// Save upserts a connection record
func (s *MemoryConnectionStore) Save(ctx context.Context, conn *types.Connection) error {
	if conn == nil || conn.ConnectionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.conns[conn.ConnectionID] = cloneConnection(conn)
	return nil
}

// Get retrieves a connection by ID
func (s *MemoryConnectionStore) Get(ctx context.Context, connectionID string) (*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	conn, ok := s.conns[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConnection(conn), nil
}

// GetByUser returns all connections registered for a user
func (s *MemoryConnectionStore) GetByUser(ctx context.Context, userID string) ([]*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]*types.Connection, 0)
	for _, conn := range s.conns {
		if conn.UserID == userID {
			result = append(result, cloneConnection(conn))
		}
	}
	return result, nil
}

// Touch refreshes a connection's last-activity timestamp
func (s *MemoryConnectionStore) Touch(ctx context.Context, connectionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	conn, ok := s.conns[connectionID]
	if !ok {
		return ErrNotFound
	}
	conn.LastActivity = at
	return nil
}

// Remove deletes a connection record
func (s *MemoryConnectionStore) Remove(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.conns, connectionID)
	return nil
}

// ListStale returns connections whose last activity is older than the cutoff
func (s *MemoryConnectionStore) ListStale(ctx context.Context, olderThan time.Time) ([]*types.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	result := make([]*types.Connection, 0)
	for _, conn := range s.conns {
		if conn.LastActivity.Before(olderThan) {
			result = append(result, cloneConnection(conn))
		}
	}
	return result, nil
}

// Count returns the number of tracked connections
func (s *MemoryConnectionStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.conns)), nil
}

// Close marks the store closed
func (s *MemoryConnectionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure MemoryConnectionStore implements ConnectionStore
var _ ConnectionStore = (*MemoryConnectionStore)(nil)
