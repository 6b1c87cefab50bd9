package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/types"
)

// EventBus 是领域事件的持久化日志。
type EventBus interface {
	Publish(ctx context.Context, event *types.HandoffEvent) error
	Close() error
}

// ===== 📨 Redis Stream 事件日志 =====

// RedisEventBus 将事件追加写入 Redis Stream。
type RedisEventBus struct {
	client *redis.Client
	stream string
}

// NewRedisEventBus 创建基于 Redis Stream 的事件日志。
func NewRedisEventBus(client *redis.Client, stream string) *RedisEventBus {
	if stream == "" {
		stream = "advisorflow:events"
	}
	return &RedisEventBus{client: client, stream: stream}
}

// Publish 追加一条事件。
func (b *RedisEventBus) Publish(ctx context.Context, event *types.HandoffEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"type":  string(event.Type),
			"event": data,
		},
	}).Err()
}

// Close 是空操作，client 由调用方管理。
func (b *RedisEventBus) Close() error { return nil }

var _ EventBus = (*RedisEventBus)(nil)

// ===== 🧪 内存事件日志（测试用） =====

// MemoryEventBus 在内存中记录事件，用于开发与测试。
type MemoryEventBus struct {
	mu     sync.Mutex
	events []*types.HandoffEvent
}

// NewMemoryEventBus 创建内存事件日志。
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

// Publish 记录一条事件。
func (b *MemoryEventBus) Publish(ctx context.Context, event *types.HandoffEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

// Events 返回已记录事件的快照。
func (b *MemoryEventBus) Events() []*types.HandoffEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.HandoffEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Close 是空操作。
func (b *MemoryEventBus) Close() error { return nil }

var _ EventBus = (*MemoryEventBus)(nil)

// ===== 📣 事件发布器 =====

// notification 是推送给客户端的统一消息信封。
type notification struct {
	Kind      string              `json:"kind"`
	Event     *types.HandoffEvent `json:"event,omitempty"`
	Message   json.RawMessage     `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Publisher 先将事件写入持久化日志，再按事件类型做尽力而为的
// 实时通知路由:
//   - handoff_requested: 广播给全部顾问连接 + 通知发起用户
//   - advisor_assigned / handoff_started: 仅通知用户与被指派顾问
//   - handoff_completed / status_updated: 通知相关方
//
// 持久化写入失败会返回错误；通知失败只记录日志。
type Publisher struct {
	bus      EventBus
	registry *Registry
	logger   *zap.Logger
}

// NewPublisher 创建事件发布器。
func NewPublisher(bus EventBus, registry *Registry, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		bus:      bus,
		registry: registry,
		logger:   logger.With(zap.String("component", "event_publisher")),
	}
}

// PublishEvent 持久化事件并路由实时通知。
func (p *Publisher) PublishEvent(ctx context.Context, event *types.HandoffEvent) error {
	if err := p.bus.Publish(ctx, event); err != nil {
		return err
	}

	data, err := json.Marshal(notification{
		Kind:      "handoff_event",
		Event:     event,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	switch event.Type {
	case types.EventHandoffRequested:
		p.registry.BroadcastToAdvisors(ctx, data)
		p.registry.SendToUser(ctx, event.UserID, data)

	case types.EventAdvisorAssigned, types.EventHandoffStarted:
		p.registry.SendToUser(ctx, event.UserID, data)
		if event.AdvisorID != "" {
			p.registry.SendToUser(ctx, event.AdvisorID, data)
		}

	case types.EventHandoffCompleted, types.EventStatusUpdated:
		p.registry.SendToUser(ctx, event.UserID, data)
		if event.AdvisorID != "" {
			p.registry.SendToUser(ctx, event.AdvisorID, data)
		}

	default:
		p.logger.Warn("unknown event type, skipping notification",
			zap.String("event_type", string(event.Type)))
	}
	return nil
}

// SendToUser 将任意消息包装进通知信封后投递给用户。
func (p *Publisher) SendToUser(ctx context.Context, userID string, message json.RawMessage) (int, error) {
	data, err := json.Marshal(notification{
		Kind:      "message",
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return 0, err
	}
	return p.registry.SendToUser(ctx, userID, data), nil
}

// Broadcast 将任意消息广播给指定用户集合（为空则全体）。
func (p *Publisher) Broadcast(ctx context.Context, message json.RawMessage, userIDs ...string) (int, error) {
	data, err := json.Marshal(notification{
		Kind:      "broadcast",
		Message:   message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return 0, err
	}
	return p.registry.Broadcast(ctx, data, userIDs...), nil
}
