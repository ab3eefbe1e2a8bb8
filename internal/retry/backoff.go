// Package retry 提供带抖动的有界重试，供分布式锁、持久化乐观并发冲突和
// 队列重投共用。
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxAttempts  int                                               // 总尝试次数（含第一次），最少 1
	InitialDelay time.Duration                                     // 第一次重试前的基础延迟
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟倍增因子，1.0 表示固定基础间隔
	Jitter       float64                                           // 抖动比例 [0,1]，延迟在 base*(1±Jitter) 之间随机
	RetryIf      func(err error) bool                              // 为空则重试所有错误
	OnRetry      func(attempt int, err error, delay time.Duration) // 每次重试前回调
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// PollingPolicy 以固定基础间隔加抖动轮询，适合锁竞争：
// 各进程的重试时刻被随机错开，而不是按同一节奏互相碰撞。
func PollingPolicy(attempts int, interval time.Duration) *Policy {
	return &Policy{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval * 2,
		Multiplier:   1.0,
		Jitter:       0.5,
	}
}

func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
}

// Backoff 计算第 attempt 次重试（从 1 开始）前的等待时间
// 指数退避：delay = initial * multiplier^(attempt-1)，再加随机抖动
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay = delay * (1 - p.Jitter + 2*p.Jitter*rand.Float64())
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ExhaustedError 表示重试次数耗尽
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted 检查错误是否来自重试次数耗尽
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Retryer 重试器
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建重试器；policy 会被复制，调用方之后的修改不影响它
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *policy
	p.normalize()
	return &Retryer{policy: p, logger: logger}
}

// Policy 返回生效的策略副本
func (r *Retryer) Policy() Policy {
	return r.policy
}

// Do 执行 fn，失败时按策略重试。
// 不可重试的错误原样返回；次数耗尽返回 *ExhaustedError。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Backoff(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.policy.RetryIf != nil && !r.policy.RetryIf(lastErr) {
			return lastErr
		}
	}

	return &ExhaustedError{Attempts: r.policy.MaxAttempts, Last: lastErr}
}

// DoValue 是带返回值的 Do
func DoValue[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
