package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ===== 🔁 重试执行器 =====

// RetryPolicy 定义指数退避重试策略
// 遵循 KISS 原则：简单但功能完整的重试策略
type RetryPolicy struct {
	MaxAttempts int                                               // 最大尝试次数（含首次执行）
	BaseDelay   time.Duration                                     // 初始延迟时间
	MaxDelay    time.Duration                                     // 最大延迟时间
	Jitter      bool                                              // 是否添加随机抖动（防止雪崩）
	OnRetry     func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认重试策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Hooks 是一次重试执行的结果回调。
type Hooks struct {
	// OnSuccess 在操作最终成功后调用（如确认消息）
	OnSuccess func(ctx context.Context)
	// OnFinalFailure 在重试耗尽后调用（如移入死信队列）
	OnFinalFailure func(ctx context.Context, attempts int, lastErr error)
}

// ExhaustedError 是重试耗尽后的终态错误，携带尝试次数与最后一次错误。
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Executor 按策略执行操作: 失败后按 delay = min(maxDelay,
// base*2^(attempt-1)) 加 ±25% 抖动退避重试，耗尽后触发
// OnFinalFailure 并返回 ExhaustedError。
type Executor struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewExecutor 创建重试执行器。
func NewExecutor(policy RetryPolicy, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return &Executor{
		policy: policy,
		logger: logger.With(zap.String("component", "retry_executor")),
	}
}

// Execute 执行 operation，失败时按策略重试。
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context) error, hooks Hooks) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := e.calculateDelay(attempt - 1)

			e.logger.Debug("retrying operation",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if e.policy.OnRetry != nil {
				e.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
			}
			if hooks.OnSuccess != nil {
				hooks.OnSuccess(ctx)
			}
			return nil
		}
	}

	e.logger.Warn("retries exhausted",
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	if hooks.OnFinalFailure != nil {
		hooks.OnFinalFailure(ctx, e.policy.MaxAttempts, lastErr)
	}
	return &ExhaustedError{Attempts: e.policy.MaxAttempts, LastErr: lastErr}
}

// calculateDelay 计算第 n 次失败后的退避延迟
// 指数退避: delay = min(maxDelay, base * 2^(n-1))，可选 ±25% 抖动
func (e *Executor) calculateDelay(failures int) time.Duration {
	delay := float64(e.policy.BaseDelay) * math.Pow(2, float64(failures-1))

	if delay > float64(e.policy.MaxDelay) {
		delay = float64(e.policy.MaxDelay)
	}

	// 随机抖动（±25%），防止多个消费者同时重试导致的雪崩
	if e.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
