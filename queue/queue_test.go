package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/types"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Stream:       "test:queue",
		Group:        "test-group",
		Consumer:     "test-consumer",
		BatchSize:    16,
		BlockTimeout: 10 * time.Millisecond,
		ClaimIdle:    20 * time.Millisecond,
		DedupeWindow: time.Minute,
	}
}

func newRedisTestQueue(t *testing.T) Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, testQueueConfig(), zap.NewNop())
}

func newMemoryTestQueue(t *testing.T) Queue {
	t.Helper()
	return NewMemoryQueue(time.Minute, 20*time.Millisecond)
}

// 两种实现共用一套行为测试。
func queueBackends() map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"memory": newMemoryTestQueue,
		"redis":  newRedisTestQueue,
	}
}

func chatMessage(userID, text string) *types.QueueMessage {
	return &types.QueueMessage{
		Type: types.MessageTypeChat,
		Payload: types.MessagePayload{
			Chat: &types.ChatPayload{ConversationID: "conv-1", Text: text},
		},
		Metadata: types.MessageMetadata{UserID: userID},
	}
}

func TestQueue_EnqueueReceiveAcknowledge(t *testing.T) {
	for name, factory := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()

			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "first")))
			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "second")))

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 2, depth)

			batch, err := q.Receive(ctx, 10)
			require.NoError(t, err)
			require.Len(t, batch, 2)

			// 同一用户的消息保持入队顺序
			assert.Equal(t, "first", batch[0].Message.Payload.Chat.Text)
			assert.Equal(t, "second", batch[1].Message.Payload.Chat.Text)
			assert.NotEmpty(t, batch[0].Message.ID)
			assert.Equal(t, "u1", batch[0].Message.Metadata.UserID)

			for _, m := range batch {
				require.NoError(t, q.Acknowledge(ctx, m.AckHandle))
			}

			depth, err = q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 0, depth)

			// 确认后不再投递
			batch, err = q.Receive(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, batch)
		})
	}
}

func TestQueue_DedupeCollapsesRedundantEnqueue(t *testing.T) {
	for name, factory := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()

			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "hello")))
			// 窗口内的相同内容: 静默合并，不报错
			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "hello")))

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, depth)

			// 不同内容或不同用户不受去重影响
			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "world")))
			require.NoError(t, q.Enqueue(ctx, chatMessage("u2", "hello")))

			depth, err = q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 3, depth)
		})
	}
}

func TestQueue_RedeliveryBumpsRetryCount(t *testing.T) {
	for name, factory := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()

			require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "flaky")))

			batch, err := q.Receive(ctx, 10)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, 0, batch[0].Message.Metadata.RetryCount)

			// 不确认，等待空闲阈值后重投
			time.Sleep(40 * time.Millisecond)

			batch, err = q.Receive(ctx, 10)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, "flaky", batch[0].Message.Payload.Chat.Text)
			assert.Equal(t, 1, batch[0].Message.Metadata.RetryCount)

			require.NoError(t, q.Acknowledge(ctx, batch[0].AckHandle))

			batch, err = q.Receive(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, batch)
		})
	}
}

func TestQueue_MoveToDeadLetter(t *testing.T) {
	for name, factory := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()

			msg := chatMessage("u1", "poison")
			require.NoError(t, q.Enqueue(ctx, msg))

			batch, err := q.Receive(ctx, 10)
			require.NoError(t, err)
			require.Len(t, batch, 1)

			require.NoError(t, q.MoveToDeadLetter(ctx, batch[0].Message, assert.AnError))
			require.NoError(t, q.Acknowledge(ctx, batch[0].AckHandle))

			deadDepth, err := q.DeadLetterDepth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 1, deadDepth)

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 0, depth)
		})
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	for name, factory := range queueBackends() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)
			ctx := context.Background()

			assert.ErrorIs(t, q.Enqueue(ctx, nil), ErrInvalidMessage)

			bad := chatMessage("u1", "x")
			bad.Type = "bogus"
			assert.ErrorIs(t, q.Enqueue(ctx, bad), ErrInvalidMessage)

			noUser := chatMessage("", "x")
			assert.ErrorIs(t, q.Enqueue(ctx, noUser), ErrInvalidMessage)
		})
	}
}

func TestMemoryQueue_DeadLetterCarriesErrorMetadata(t *testing.T) {
	q := NewMemoryQueue(0, 0)
	ctx := context.Background()

	msg := chatMessage("u1", "doomed")
	msg.Metadata.RetryCount = 2
	require.NoError(t, q.Enqueue(ctx, msg))

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, q.MoveToDeadLetter(ctx, batch[0].Message, assert.AnError))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "doomed", dead[0].Message.Payload.Chat.Text)
	assert.Equal(t, assert.AnError.Error(), dead[0].Error)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.False(t, dead[0].FailedAt.IsZero())
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(0, 0)
	ctx := context.Background()

	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, chatMessage("u1", "late")), ErrQueueClosed)
	_, err := q.Receive(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Acknowledge(ctx, "h"), ErrQueueClosed)
}

// failFirstXAddHook 让第一条 XADD 命令失败，模拟追加时的瞬时故障。
type failFirstXAddHook struct {
	tripped atomic.Bool
}

func (h *failFirstXAddHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failFirstXAddHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "xadd") && h.tripped.CompareAndSwap(false, true) {
			err := errors.New("connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failFirstXAddHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisQueue_EnqueueRetryAfterAppendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	client.AddHook(&failFirstXAddHook{})

	q := NewRedisQueue(client, testQueueConfig(), zap.NewNop())
	ctx := context.Background()

	// 第一次入队在追加阶段失败
	msg := chatMessage("u1", "once")
	require.Error(t, q.Enqueue(ctx, msg))

	// 重试同一条消息不能被去重窗口吞掉
	require.NoError(t, q.Enqueue(ctx, chatMessage("u1", "once")))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	batch, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "once", batch[0].Message.Payload.Chat.Text)
}
