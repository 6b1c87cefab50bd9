package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/advisorflow/types"
)

// maxCASRetries bounds optimistic transaction retries under contention.
const maxCASRetries = 5

// RedisHandoffStore is a Redis-based implementation of HandoffStore.
// Suitable for distributed production deployments.
// Records are JSON blobs keyed by queue ID, with sorted sets for
// status/advisor/user indexing scored by creation time.
type RedisHandoffStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisHandoffStore creates a new Redis-based handoff store
func NewRedisHandoffStore(config StoreConfig) (*RedisHandoffStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "advisorflow:"
	}

	return &RedisHandoffStore{
		client:    client,
		keyPrefix: keyPrefix + "handoff:",
		retention: config.Retention,
	}, nil
}

// NewRedisHandoffStoreWithClient wraps an existing client, used when the
// caller manages the connection lifecycle.
func NewRedisHandoffStoreWithClient(client *redis.Client, keyPrefix string, retention time.Duration) *RedisHandoffStore {
	if keyPrefix == "" {
		keyPrefix = "advisorflow:"
	}
	return &RedisHandoffStore{
		client:    client,
		keyPrefix: keyPrefix + "handoff:",
		retention: retention,
	}
}

// Close closes the store
func (s *RedisHandoffStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisHandoffStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// dataKey returns the Redis key for a handoff record
func (s *RedisHandoffStore) dataKey(queueID string) string {
	return s.keyPrefix + "data:" + queueID
}

// statusKey returns the Redis key for a status index
func (s *RedisHandoffStore) statusKey(status types.HandoffStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

// advisorKey returns the Redis key for an advisor's handoff index
func (s *RedisHandoffStore) advisorKey(advisorID string) string {
	return s.keyPrefix + "advisor:" + advisorID
}

// userKey returns the Redis key for a user's handoff index
func (s *RedisHandoffStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

// allKey returns the Redis key for the all-records index
func (s *RedisHandoffStore) allKey() string {
	return s.keyPrefix + "all"
}

// Create inserts a new handoff record, failing when the queue ID is taken
func (s *RedisHandoffStore) Create(ctx context.Context, req *types.HandoffRequest) error {
	if req == nil || req.QueueID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}

	// Insert-if-absent guards against duplicate queue IDs
	ok, err := s.client.SetNX(ctx, s.dataKey(req.QueueID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}

	score := float64(req.CreatedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.statusKey(req.Status), redis.Z{Score: score, Member: req.QueueID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: req.QueueID})
	if req.UserID != "" {
		pipe.ZAdd(ctx, s.userKey(req.UserID), redis.Z{Score: score, Member: req.QueueID})
	}
	if req.AdvisorID != "" {
		pipe.ZAdd(ctx, s.advisorKey(req.AdvisorID), redis.Z{Score: score, Member: req.QueueID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a handoff record by queue ID
func (s *RedisHandoffStore) Get(ctx context.Context, queueID string) (*types.HandoffRequest, error) {
	data, err := s.client.Get(ctx, s.dataKey(queueID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var req types.HandoffRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateStatus applies a conditional status transition under WATCH so
// that concurrent writers race cleanly: exactly one CAS on the same
// expected status wins, the rest observe ErrPreconditionFailed.
func (s *RedisHandoffStore) UpdateStatus(ctx context.Context, queueID string, update HandoffUpdate) (*types.HandoffRequest, error) {
	key := s.dataKey(queueID)
	var updated *types.HandoffRequest

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var req types.HandoffRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}

		if req.Status != update.ExpectedStatus {
			return ErrPreconditionFailed
		}

		oldStatus := req.Status
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

		newData, err := json.Marshal(&req)
		if err != nil {
			return err
		}

		score := float64(req.CreatedAt.UnixNano())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Terminal records expire after the retention window
			if req.Status.IsTerminal() && s.retention > 0 {
				pipe.Set(ctx, key, newData, s.retention)
			} else {
				pipe.Set(ctx, key, newData, 0)
			}

			pipe.ZRem(ctx, s.statusKey(oldStatus), queueID)
			pipe.ZAdd(ctx, s.statusKey(req.Status), redis.Z{Score: score, Member: queueID})
			if update.AdvisorID != "" {
				pipe.ZAdd(ctx, s.advisorKey(update.AdvisorID), redis.Z{Score: score, Member: queueID})
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = &req
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		// The watched key changed under us; reload and retry
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrPreconditionFailed
}

// ListByStatus returns records in the given status, oldest first
func (s *RedisHandoffStore) ListByStatus(ctx context.Context, status types.HandoffStatus, limit int) ([]*types.HandoffRequest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.statusKey(status), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, ids, s.statusKey(status), status)
}

// ListByAdvisor returns records assigned to the advisor, newest first
func (s *RedisHandoffStore) ListByAdvisor(ctx context.Context, advisorID string, limit int) ([]*types.HandoffRequest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.advisorKey(advisorID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, ids, s.advisorKey(advisorID), "")
}

// ListByUser returns the user's records, newest first
func (s *RedisHandoffStore) ListByUser(ctx context.Context, userID string, limit int) ([]*types.HandoffRequest, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, ids, s.userKey(userID), "")
}

// collect loads records by ID. Entries whose data key has expired are
// pruned from the source index and the all-records index so counts do
// not drift after retention expiry.
func (s *RedisHandoffStore) collect(ctx context.Context, ids []string, indexKey string, wantStatus types.HandoffStatus) ([]*types.HandoffRequest, error) {
	result := make([]*types.HandoffRequest, 0, len(ids))
	var dangling []interface{}
	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			dangling = append(dangling, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if wantStatus != "" && req.Status != wantStatus {
			continue
		}
		result = append(result, req)
	}

	if len(dangling) > 0 {
		// Best-effort prune; a failed prune is retried on the next read
		pipe := s.client.Pipeline()
		pipe.ZRem(ctx, indexKey, dangling...)
		pipe.ZRem(ctx, s.allKey(), dangling...)
		_, _ = pipe.Exec(ctx)
	}
	return result, nil
}

// CountByStatus returns the number of records in the given status
func (s *RedisHandoffStore) CountByStatus(ctx context.Context, status types.HandoffStatus) (int64, error) {
	return s.client.ZCard(ctx, s.statusKey(status)).Result()
}

// Delete removes a record and its index entries
func (s *RedisHandoffStore) Delete(ctx context.Context, queueID string) error {
	req, err := s.Get(ctx, queueID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.dataKey(queueID))
	pipe.ZRem(ctx, s.statusKey(req.Status), queueID)
	pipe.ZRem(ctx, s.allKey(), queueID)
	if req.UserID != "" {
		pipe.ZRem(ctx, s.userKey(req.UserID), queueID)
	}
	if req.AdvisorID != "" {
		pipe.ZRem(ctx, s.advisorKey(req.AdvisorID), queueID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Ensure RedisHandoffStore implements HandoffStore
var _ HandoffStore = (*RedisHandoffStore)(nil)
