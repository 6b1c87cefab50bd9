package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/advisorflow/types"
)

// RedisConnectionStore is a Redis-based implementation of ConnectionStore.
// Connection records are JSON blobs; a per-user set and a last-activity
// sorted set support fan-out lookup and staleness sweeps.
type RedisConnectionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisConnectionStore wraps an existing client
func NewRedisConnectionStore(client *redis.Client, keyPrefix string) *RedisConnectionStore {
	if keyPrefix == "" {
		keyPrefix = "advisorflow:"
	}
	return &RedisConnectionStore{
		client:    client,
		keyPrefix: keyPrefix + "conn:",
	}
}

func (s *RedisConnectionStore) dataKey(connectionID string) string {
	return s.keyPrefix + "data:" + connectionID
}

func (s *RedisConnectionStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

// activityKey indexes connection IDs by last-activity unix nanos
func (s *RedisConnectionStore) activityKey() string {
	return s.keyPrefix + "activity"
}

// Save upserts a connection record
func (s *RedisConnectionStore) Save(ctx context.Context, conn *types.Connection) error {
	if conn == nil || conn.ConnectionID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(conn)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(conn.ConnectionID), data, 0)
	pipe.SAdd(ctx, s.userKey(conn.UserID), conn.ConnectionID)
	pipe.ZAdd(ctx, s.activityKey(), redis.Z{
		Score:  float64(conn.LastActivity.UnixNano()),
		Member: conn.ConnectionID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a connection by ID
func (s *RedisConnectionStore) Get(ctx context.Context, connectionID string) (*types.Connection, error) {
	data, err := s.client.Get(ctx, s.dataKey(connectionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var conn types.Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// GetByUser returns all connections registered for a user
func (s *RedisConnectionStore) GetByUser(ctx context.Context, userID string) ([]*types.Connection, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*types.Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Prune dangling membership
			s.client.SRem(ctx, s.userKey(userID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	return result, nil
}

// Touch refreshes a connection's last-activity timestamp
func (s *RedisConnectionStore) Touch(ctx context.Context, connectionID string, at time.Time) error {
	conn, err := s.Get(ctx, connectionID)
	if err != nil {
		return err
	}

	conn.LastActivity = at
	data, err := json.Marshal(conn)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(connectionID), data, 0)
	pipe.ZAdd(ctx, s.activityKey(), redis.Z{
		Score:  float64(at.UnixNano()),
		Member: connectionID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes a connection record and its index entries
func (s *RedisConnectionStore) Remove(ctx context.Context, connectionID string) error {
	conn, err := s.Get(ctx, connectionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.dataKey(connectionID))
	pipe.SRem(ctx, s.userKey(conn.UserID), connectionID)
	pipe.ZRem(ctx, s.activityKey(), connectionID)
	_, err = pipe.Exec(ctx)
	return err
}

// ListStale returns connections whose last activity is older than the cutoff
func (s *RedisConnectionStore) ListStale(ctx context.Context, olderThan time.Time) ([]*types.Connection, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*types.Connection, 0, len(ids))
	for _, id := range ids {
		conn, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, s.activityKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, conn)
	}
	return result, nil
}

// Count returns the number of tracked connections
func (s *RedisConnectionStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.activityKey()).Result()
}

// Close is a no-op; the client is owned by the caller
func (s *RedisConnectionStore) Close() error {
	return nil
}

// Ensure RedisConnectionStore implements ConnectionStore
var _ ConnectionStore = (*RedisConnectionStore)(nil)
