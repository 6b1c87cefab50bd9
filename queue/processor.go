package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/advisorflow/config"
	"github.com/BaSui01/advisorflow/internal/metrics"
	"github.com/BaSui01/advisorflow/types"
)

// ===== ⚙️ 队列处理器 =====

// Handler 处理一条已出队的消息。
type Handler func(ctx context.Context, msg *types.QueueMessage) error

// Processor 驱动批量消费循环: 拉取一批消息，逐条在重试执行器中
// 调用 Handler；成功则确认，重试耗尽则移入死信并确认（不再经主
// 路径重投）。单条消息的终态失败不会中断批次内其余消息。
type Processor struct {
	queue    Queue
	handler  Handler
	executor *Executor
	metrics  *metrics.Collector
	logger   *zap.Logger
	cfg      config.QueueConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewProcessor 创建队列处理器。
func NewProcessor(q Queue, handler Handler, executor *Executor, collector *metrics.Collector, logger *zap.Logger, cfg config.QueueConfig) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:    q,
		handler:  handler,
		executor: executor,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "queue_processor")),
		cfg:      cfg,
	}
}

// ProcessBatch 拉取并处理一批消息，返回成功处理的条数。
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	batch, err := p.queue.Receive(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, received := range batch {
		if err := p.processOne(ctx, received); err == nil {
			processed++
		}
		// 批次内逐条隔离: 终态失败也继续处理剩余消息
	}

	if depth, derr := p.queue.Depth(ctx); derr == nil {
		p.metrics.SetQueueDepth("primary", depth)
	}
	if depth, derr := p.queue.DeadLetterDepth(ctx); derr == nil {
		p.metrics.SetQueueDepth("dead_letter", depth)
	}
	return processed, nil
}

// processOne 在重试执行器中投递一条消息。
func (p *Processor) processOne(ctx context.Context, received *ReceivedMessage) error {
	msg := received.Message

	attempt := 0
	err := p.executor.Execute(ctx,
		func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				p.metrics.RecordDeliveryRetry()
			}
			return p.handler(ctx, msg)
		},
		Hooks{
			OnSuccess: func(ctx context.Context) {
				if aerr := p.queue.Acknowledge(ctx, received.AckHandle); aerr != nil {
					p.logger.Warn("acknowledge failed",
						zap.String("message_id", msg.ID), zap.Error(aerr))
					return
				}
				p.metrics.RecordAck()
			},
			OnFinalFailure: func(ctx context.Context, attempts int, lastErr error) {
				if derr := p.queue.MoveToDeadLetter(ctx, msg, lastErr); derr != nil {
					p.logger.Error("dead-letter write failed, message will be redelivered",
						zap.String("message_id", msg.ID), zap.Error(derr))
					return
				}
				p.metrics.RecordDeadLetter()
				// 死信已落盘，从主路径摘除
				if aerr := p.queue.Acknowledge(ctx, received.AckHandle); aerr != nil {
					p.logger.Warn("acknowledge after dead-letter failed",
						zap.String("message_id", msg.ID), zap.Error(aerr))
				}
				p.logger.Error("message moved to dead letter",
					zap.String("message_id", msg.ID),
					zap.Int("attempts", attempts),
					zap.Error(lastErr),
				)
			},
		},
	)

	var exhausted *ExhaustedError
	if err != nil && !errors.As(err, &exhausted) {
		// 非终态错误（如 context 取消）原样上抛
		return err
	}
	return err
}

// Start 启动后台消费循环。
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.logger.Info("queue processor started",
				zap.String("stream", p.cfg.Stream),
				zap.String("group", p.cfg.Group),
			)
			for {
				select {
				case <-ctx.Done():
					p.logger.Info("queue processor stopped")
					return
				default:
				}
				if _, err := p.ProcessBatch(ctx); err != nil {
					if ctx.Err() != nil {
						continue
					}
					p.logger.Warn("batch processing failed", zap.Error(err))
				}
			}
		}()
	})
}

// Stop 停止消费循环并等待在途批次完成。
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
