// Package store provides persistent storage interfaces and implementations
// for handoff requests and push connections in AdvisorFlow.
//
// Two concerns live here:
// 1. Durable handoff records with status/advisor/user secondary indexes (HandoffStore)
// 2. Live connection registry state shared across instances (ConnectionStore)
//
// Supported backends:
// - Memory: For development and testing
// - Redis: For distributed production deployments
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/advisorflow/types"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStoreClosed        = errors.New("store is closed")
	ErrInvalidInput       = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// RedisStoreConfig holds connection settings for Redis-backed stores
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Retention is how long terminal records are kept before expiry (0 = forever)
	Retention time.Duration `json:"retention" yaml:"retention"`
}

// HandoffUpdate describes a conditional mutation of a handoff record.
// The update is applied only when the stored record's status equals
// ExpectedStatus; otherwise the store returns ErrPreconditionFailed.
type HandoffUpdate struct {
	// ExpectedStatus is the status the record must currently hold
	ExpectedStatus types.HandoffStatus

	// NewStatus is the status to transition to
	NewStatus types.HandoffStatus

	// AdvisorID, when non-empty, is written to the record
	AdvisorID string

	// Reason, when non-empty, is recorded under Metadata.Extra["reason"]
	Reason string
}

// HandoffStore persists handoff requests with secondary indexes by
// status, advisor and user. Implementations must be safe for
// concurrent use: Create is insert-if-absent, and UpdateStatus is a
// compare-and-set keyed on the current status.
type HandoffStore interface {
	// Create inserts a new handoff record. Returns ErrAlreadyExists
	// when a record with the same queue ID is present.
	Create(ctx context.Context, req *types.HandoffRequest) error

	// Get retrieves a record by queue ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, queueID string) (*types.HandoffRequest, error)

	// UpdateStatus applies a conditional status transition. Returns
	// ErrNotFound when the record is absent and ErrPreconditionFailed
	// when the stored status does not match update.ExpectedStatus.
	// On success the returned record reflects the applied update.
	UpdateStatus(ctx context.Context, queueID string, update HandoffUpdate) (*types.HandoffRequest, error)

	// ListByStatus returns records in the given status ordered by
	// creation time ascending. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status types.HandoffStatus, limit int) ([]*types.HandoffRequest, error)

	// ListByAdvisor returns records assigned to the advisor, newest first.
	ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]*types.HandoffRequest, error)

	// ListByUser returns the user's records, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*types.HandoffRequest, error)

	// CountByStatus returns the number of records in the given status.
	CountByStatus(ctx context.Context, status types.HandoffStatus) (int64, error)

	// Delete removes a record and its index entries.
	Delete(ctx context.Context, queueID string) error

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ConnectionStore tracks live push connections by connection ID and user.
type ConnectionStore interface {
	// Save upserts a connection record.
	Save(ctx context.Context, conn *types.Connection) error

	// Get retrieves a connection by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, connectionID string) (*types.Connection, error)

	// GetByUser returns all connections registered for a user.
	GetByUser(ctx context.Context, userID string) ([]*types.Connection, error)

	// Touch refreshes a connection's last-activity timestamp.
	Touch(ctx context.Context, connectionID string, at time.Time) error

	// Remove deletes a connection record.
	Remove(ctx context.Context, connectionID string) error

	// ListStale returns connections whose last activity is older than
	// the cutoff.
	ListStale(ctx context.Context, olderThan time.Time) ([]*types.Connection, error)

	// Count returns the number of tracked connections.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}
