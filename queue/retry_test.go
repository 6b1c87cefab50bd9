package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      false,
	}
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	e := NewExecutor(fastPolicy(3), zap.NewNop())

	calls := 0
	var succeeded bool
	err := e.Execute(context.Background(),
		func(ctx context.Context) error {
			calls++
			return nil
		},
		Hooks{OnSuccess: func(ctx context.Context) { succeeded = true }},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, succeeded)
}

// k 次瞬态失败后成功: 调用方得到成功，不触发终态回调。
func TestExecutor_TransientFailuresThenSuccess(t *testing.T) {
	e := NewExecutor(fastPolicy(3), zap.NewNop())

	calls := 0
	finalFailures := 0
	err := e.Execute(context.Background(),
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
		Hooks{
			OnFinalFailure: func(ctx context.Context, attempts int, lastErr error) {
				finalFailures++
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, finalFailures)
}

func TestExecutor_Exhaustion(t *testing.T) {
	e := NewExecutor(fastPolicy(3), zap.NewNop())

	calls := 0
	var gotAttempts int
	var gotErr error
	err := e.Execute(context.Background(),
		func(ctx context.Context) error {
			calls++
			return errors.New("permanent")
		},
		Hooks{
			OnFinalFailure: func(ctx context.Context, attempts int, lastErr error) {
				gotAttempts = attempts
				gotErr = lastErr
			},
		},
	)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.EqualError(t, exhausted.LastErr, "permanent")

	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, gotAttempts)
	assert.EqualError(t, gotErr, "permanent")
}

func TestExecutor_OnRetryCallback(t *testing.T) {
	policy := fastPolicy(3)
	var retries []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}
	e := NewExecutor(policy, zap.NewNop())

	_ = e.Execute(context.Background(),
		func(ctx context.Context) error { return errors.New("nope") },
		Hooks{},
	)
	assert.Equal(t, []int{2, 3}, retries)
}

func TestExecutor_ContextCancellation(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Hour, // 取消必须打断等待
		MaxDelay:    time.Hour,
	}
	e := NewExecutor(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.Execute(ctx,
		func(ctx context.Context) error { return errors.New("fail") },
		Hooks{},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

// 退避延迟的性质: 无抖动时单调非递减且不超过 MaxDelay；
// 有抖动时落在理想值的 ±25% 区间内。
func TestCalculateDelay_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Duration(rapid.Int64Range(int64(time.Millisecond), int64(time.Second)).Draw(t, "base"))
		max := time.Duration(rapid.Int64Range(int64(base), int64(time.Minute)).Draw(t, "max"))
		failures := rapid.IntRange(1, 20).Draw(t, "failures")

		plain := NewExecutor(RetryPolicy{MaxAttempts: 1, BaseDelay: base, MaxDelay: max}, zap.NewNop())

		prev := time.Duration(0)
		for n := 1; n <= failures; n++ {
			d := plain.calculateDelay(n)
			if d < prev {
				t.Fatalf("delay decreased: failures=%d got %v after %v", n, d, prev)
			}
			if d > max {
				t.Fatalf("delay %v exceeds max %v", d, max)
			}
			prev = d
		}

		jittered := NewExecutor(RetryPolicy{MaxAttempts: 1, BaseDelay: base, MaxDelay: max, Jitter: true}, zap.NewNop())
		d := jittered.calculateDelay(failures)

		ideal := float64(base)
		for i := 1; i < failures; i++ {
			ideal *= 2
			if ideal >= float64(max) {
				ideal = float64(max)
				break
			}
		}
		lo := time.Duration(ideal * 0.75)
		hi := time.Duration(ideal * 1.25)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	})
}

func TestNewExecutor_NormalizesPolicy(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: -1, BaseDelay: -time.Second, MaxDelay: 0}, zap.NewNop())
	assert.Equal(t, 1, e.policy.MaxAttempts)
	assert.Positive(t, e.policy.BaseDelay)
	assert.GreaterOrEqual(t, e.policy.MaxDelay, e.policy.BaseDelay)
}
