// =============================================================================
// 📬 AdvisorFlow 工作队列
// =============================================================================
// 至少一次投递的消息队列抽象: 入队去重、批量长轮询拉取、
// 确认删除与死信队列。
// =============================================================================
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/advisorflow/types"
)

// 队列通用错误
var (
	ErrQueueClosed    = errors.New("queue is closed")
	ErrInvalidMessage = errors.New("invalid message")
)

// ReceivedMessage 是一条带确认句柄的已投递消息。
// AckHandle 对调用方不透明，仅用于回传 Acknowledge。
type ReceivedMessage struct {
	Message   *types.QueueMessage
	AckHandle string
}

// Queue 是至少一次投递的工作队列。
//   - Enqueue 为消息分配按用户的有序键与去重键；短窗口内的
//     重复入队被静默合并（不报错、不重复入队）。
//   - Receive 长轮询批量拉取；超时未确认的消息会被重新投递，
//     重投时 RetryCount 单调递增。
//   - Acknowledge 删除消息，之后不再重投。
//   - MoveToDeadLetter 将耗尽重试的消息连同错误元数据写入死信队列。
type Queue interface {
	Enqueue(ctx context.Context, msg *types.QueueMessage) error
	Receive(ctx context.Context, maxBatch int) ([]*ReceivedMessage, error)
	Acknowledge(ctx context.Context, handle string) error
	MoveToDeadLetter(ctx context.Context, msg *types.QueueMessage, cause error) error
	Depth(ctx context.Context) (int64, error)
	DeadLetterDepth(ctx context.Context) (int64, error)
	Close() error
}

// dedupeKey 从消息内容推导去重键: 同一用户在短窗口内重复提交的
// 相同内容会得到相同的键。
func dedupeKey(msg *types.QueueMessage) (string, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(msg.Type))
	h.Write([]byte{0})
	h.Write([]byte(msg.Metadata.UserID))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateMessage 入队前的防御性检查。
func validateMessage(msg *types.QueueMessage) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if !msg.Type.IsValid() {
		return ErrInvalidMessage
	}
	if msg.Metadata.UserID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// newDeadLetter 构造死信条目。
func newDeadLetter(msg *types.QueueMessage, cause error) *types.DeadLetter {
	errMsg := "unknown error"
	if cause != nil {
		errMsg = cause.Error()
	}
	return &types.DeadLetter{
		Message:  *msg,
		Error:    errMsg,
		Attempts: msg.Metadata.RetryCount + 1,
		FailedAt: time.Now(),
	}
}
