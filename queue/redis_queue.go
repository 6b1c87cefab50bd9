package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/types"
)

// ===== 📬 Redis Stream 队列 =====

// RedisQueue 基于 Redis Stream + 消费者组实现至少一次投递。
// 消息按入流顺序投递，同一消费者内保持相对顺序，因此同一用户
// 的消息顺序得以保留。超过 ClaimIdle 未确认的条目会被重新认领，
// 重投时 RetryCount 递增。
type RedisQueue struct {
	client   *redis.Client
	logger   *zap.Logger
	cfg      config.QueueConfig
	consumer string

	initOnce sync.Once
	initErr  error
	mu       sync.Mutex
	closed   bool
}

// NewRedisQueue 创建 Redis Stream 队列。
func NewRedisQueue(client *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "consumer-" + uuid.New().String()[:8]
	}
	return &RedisQueue{
		client:   client,
		logger:   logger.With(zap.String("component", "redis_queue")),
		cfg:      cfg,
		consumer: consumer,
	}
}

// ensureGroup 创建消费者组（幂等）。
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	q.initOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.initErr = fmt.Errorf("failed to create consumer group: %w", err)
		}
	})
	return q.initErr
}

func (q *RedisQueue) dedupeRedisKey(key string) string {
	return q.cfg.Stream + ":dedupe:" + key
}

func (q *RedisQueue) deadStream() string {
	return q.cfg.Stream + ":dead"
}

// Enqueue 入队一条消息。短窗口内的重复提交被静默合并。
func (q *RedisQueue) Enqueue(ctx context.Context, msg *types.QueueMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Metadata.Timestamp.IsZero() {
		msg.Metadata.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// 去重窗口: SetNX 失败说明同样的消息刚刚入过队
	var dedupeMark string
	if q.cfg.DedupeWindow > 0 {
		key, err := dedupeKey(msg)
		if err != nil {
			return err
		}
		dedupeMark = q.dedupeRedisKey(key)
		ok, err := q.client.SetNX(ctx, dedupeMark, msg.ID, q.cfg.DedupeWindow).Result()
		if err != nil {
			return err
		}
		if !ok {
			q.logger.Debug("duplicate enqueue collapsed",
				zap.String("message_id", msg.ID),
				zap.String("user_id", msg.Metadata.UserID),
			)
			return nil
		}
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{
			"group_key": msg.Metadata.UserID,
			"message":   data,
		},
	}).Err()
	if err != nil {
		// 追加失败必须撤销去重标记，否则调用方重试会被误判为重复，
		// 消息在整个去重窗口内丢失
		if dedupeMark != "" {
			if derr := q.client.Del(context.WithoutCancel(ctx), dedupeMark).Err(); derr != nil {
				q.logger.Warn("failed to roll back dedupe mark after enqueue error",
					zap.String("message_id", msg.ID), zap.Error(derr))
			}
		}
		return err
	}
	return nil
}

// Receive 批量拉取消息。先重新认领空闲超时的未确认条目（重投），
// 再长轮询读取新条目。
func (q *RedisQueue) Receive(ctx context.Context, maxBatch int) ([]*ReceivedMessage, error) {
	if maxBatch <= 0 {
		maxBatch = q.cfg.BatchSize
	}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}

	result := make([]*ReceivedMessage, 0, maxBatch)

	// 1. 重新认领超时未确认
	claimed, err := q.reclaim(ctx, maxBatch)
	if err != nil {
		q.logger.Warn("reclaim failed", zap.Error(err))
	} else {
		result = append(result, claimed...)
	}
	if len(result) >= maxBatch {
		return result[:maxBatch], nil
	}

	// 2. 读取新消息
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    int64(maxBatch - len(result)),
		Block:    q.cfg.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return result, nil
	}
	if err != nil {
		if len(result) > 0 {
			return result, nil
		}
		return nil, err
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msg, perr := parseEntry(entry)
			if perr != nil {
				// 解析不了的毒消息直接确认丢弃
				q.logger.Error("dropping unparseable entry",
					zap.String("entry_id", entry.ID), zap.Error(perr))
				q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, entry.ID)
				continue
			}
			result = append(result, &ReceivedMessage{Message: msg, AckHandle: entry.ID})
		}
	}
	return result, nil
}

// reclaim 认领空闲超过阈值的未确认条目并递增 RetryCount。
func (q *RedisQueue) reclaim(ctx context.Context, maxBatch int) ([]*ReceivedMessage, error) {
	if q.cfg.ClaimIdle <= 0 {
		return nil, nil
	}

	entries, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    int64(maxBatch),
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	result := make([]*ReceivedMessage, 0, len(entries))
	for _, entry := range entries {
		msg, perr := parseEntry(entry)
		if perr != nil {
			q.logger.Error("dropping unparseable reclaimed entry",
				zap.String("entry_id", entry.ID), zap.Error(perr))
			q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, entry.ID)
			continue
		}
		// 重投: RetryCount 单调递增
		msg.Metadata.RetryCount++
		result = append(result, &ReceivedMessage{Message: msg, AckHandle: entry.ID})
	}
	return result, nil
}

// parseEntry 解析一条 Stream 条目为队列消息。
func parseEntry(entry redis.XMessage) (*types.QueueMessage, error) {
	raw, ok := entry.Values["message"]
	if !ok {
		return nil, errors.New("entry has no message field")
	}
	str, ok := raw.(string)
	if !ok {
		return nil, errors.New("message field is not a string")
	}
	var msg types.QueueMessage
	if err := json.Unmarshal([]byte(str), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Acknowledge 确认并删除消息，之后不再重投。
func (q *RedisQueue) Acknowledge(ctx context.Context, handle string) error {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, handle)
	pipe.XDel(ctx, q.cfg.Stream, handle)
	_, err := pipe.Exec(ctx)
	return err
}

// MoveToDeadLetter 将消息连同错误元数据写入死信队列。
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, msg *types.QueueMessage, cause error) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	data, err := json.Marshal(newDeadLetter(msg, cause))
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream(),
		Values: map[string]interface{}{"dead_letter": data},
	}).Err()
}

// Depth 返回主队列长度。
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.cfg.Stream).Result()
}

// DeadLetterDepth 返回死信队列长度。
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.deadStream()).Result()
}

// Close 标记队列关闭; client 由调用方管理。
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var _ Queue = (*RedisQueue)(nil)
