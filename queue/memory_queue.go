package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/advisorflow/types"
)

// ===== 🧪 内存队列（开发与测试用） =====

// MemoryQueue 是 Queue 的内存实现。语义与 Redis 实现一致:
// 至少一次投递、去重窗口、空闲超时重投、死信队列。
type MemoryQueue struct {
	mu           sync.Mutex
	ready        []*entry
	inflight     map[string]*entry
	dead         []*types.DeadLetter
	dedupe       map[string]time.Time
	dedupeWindow time.Duration
	claimIdle    time.Duration
	closed       bool
}

type entry struct {
	msg         *types.QueueMessage
	handle      string
	deliveredAt time.Time
}

// NewMemoryQueue 创建内存队列。
func NewMemoryQueue(dedupeWindow, claimIdle time.Duration) *MemoryQueue {
	return &MemoryQueue{
		inflight:     make(map[string]*entry),
		dedupe:       make(map[string]time.Time),
		dedupeWindow: dedupeWindow,
		claimIdle:    claimIdle,
	}
}

// Enqueue 入队一条消息，短窗口内的重复提交被静默合并。
func (q *MemoryQueue) Enqueue(ctx context.Context, msg *types.QueueMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Metadata.Timestamp.IsZero() {
		msg.Metadata.Timestamp = time.Now()
	}

	if q.dedupeWindow > 0 {
		key, err := dedupeKey(msg)
		if err != nil {
			return err
		}
		if seen, ok := q.dedupe[key]; ok && time.Since(seen) < q.dedupeWindow {
			return nil
		}
		q.dedupe[key] = time.Now()
	}

	cp := *msg
	q.ready = append(q.ready, &entry{msg: &cp, handle: uuid.New().String()})
	return nil
}

// Receive 拉取一批消息。空闲超时的未确认消息先被重投。
func (q *MemoryQueue) Receive(ctx context.Context, maxBatch int) ([]*ReceivedMessage, error) {
	if maxBatch <= 0 {
		maxBatch = 16
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	// 重投空闲超时的 inflight 消息
	if q.claimIdle > 0 {
		now := time.Now()
		for handle, e := range q.inflight {
			if now.Sub(e.deliveredAt) >= q.claimIdle {
				delete(q.inflight, handle)
				e.msg.Metadata.RetryCount++
				q.ready = append(q.ready, e)
			}
		}
	}

	n := maxBatch
	if n > len(q.ready) {
		n = len(q.ready)
	}

	result := make([]*ReceivedMessage, 0, n)
	for i := 0; i < n; i++ {
		e := q.ready[i]
		e.deliveredAt = time.Now()
		q.inflight[e.handle] = e
		cp := *e.msg
		result = append(result, &ReceivedMessage{Message: &cp, AckHandle: e.handle})
	}
	q.ready = q.ready[n:]
	return result, nil
}

// Acknowledge 确认并删除消息。
func (q *MemoryQueue) Acknowledge(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	delete(q.inflight, handle)
	return nil
}

// MoveToDeadLetter 写入死信队列。
func (q *MemoryQueue) MoveToDeadLetter(ctx context.Context, msg *types.QueueMessage, cause error) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.dead = append(q.dead, newDeadLetter(msg, cause))
	return nil
}

// Depth 返回待投递消息数（含 inflight）。
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.inflight)), nil
}

// DeadLetterDepth 返回死信队列长度。
func (q *MemoryQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

// DeadLetters 返回死信快照，测试用。
func (q *MemoryQueue) DeadLetters() []*types.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close 标记队列关闭。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
