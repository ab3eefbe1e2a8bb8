package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/metrics"
	"github.com/BaSui01/herd/internal/retry"
	"github.com/BaSui01/herd/types"
)

// Config controls lock acquisition.
type Config struct {
	// Retries is the total number of acquisition attempts.
	Retries int
	// PollingInterval is the base wait between attempts, jittered ±50%.
	PollingInterval time.Duration
	// LockingDuration is the lease TTL.
	LockingDuration time.Duration
}

// ConfigFrom reads the lock tunables of the engine config.
func ConfigFrom(cfg config.HerdConfig) Config {
	return Config{
		Retries:         cfg.LockRetries,
		PollingInterval: cfg.PollingInterval,
		LockingDuration: cfg.LockingDuration,
	}
}

// Mutex runs critical sections under a distributed lock.
type Mutex struct {
	locker  Locker
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewMutex creates a mutex. collector may be nil.
func NewMutex(locker Locker, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Mutex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 30
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 300 * time.Millisecond
	}
	if cfg.LockingDuration <= 0 {
		cfg.LockingDuration = 2 * time.Second
	}
	return &Mutex{
		locker:  locker,
		config:  cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "mutex")),
	}
}

// WithLock acquires key, runs fn and releases the lease. Contention and
// transient backend errors are retried with jittered backoff; when the
// budget runs out a LOCK_ACQUISITION_TIMEOUT error is returned and fn is
// not run.
func (m *Mutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	scope := scopeOf(key)

	policy := retry.PollingPolicy(m.config.Retries, m.config.PollingInterval)
	policy.RetryIf = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	policy.OnRetry = func(int, error, time.Duration) {
		m.metrics.RecordLockRetry(scope)
	}

	lease, err := retry.DoValue(ctx, retry.New(policy, m.logger), func(ctx context.Context) (Lease, error) {
		return m.locker.Acquire(ctx, key, m.config.LockingDuration)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			waited := time.Since(start)
			m.metrics.RecordLockExhausted(scope, waited)
			m.logger.Error("lock retry budget exhausted",
				zap.String("key", key),
				zap.Int("attempts", exhausted.Attempts),
				zap.Duration("waited", waited),
				zap.Error(exhausted.Last),
			)
			timeout := types.NewLockTimeoutError(key, exhausted.Attempts)
			if !errors.Is(exhausted.Last, ErrNotObtained) {
				timeout = timeout.WithCause(exhausted.Last)
			}
			return timeout
		}
		return err
	}
	m.metrics.RecordLockAcquired(scope, time.Since(start))

	stop := m.keepAlive(ctx, lease)
	defer func() {
		stop()
		// release even if ctx was cancelled while fn ran
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx)
}

// keepAlive extends the lease every third of its TTL until stop is called,
// so a slow critical section keeps its lock.
func (m *Mutex) keepAlive(ctx context.Context, lease Lease) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(max(m.config.LockingDuration/3, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := lease.Extend(ctx, m.config.LockingDuration)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("failed to extend lock lease", zap.String("key", lease.Key()), zap.Error(err))
			if errors.Is(err, ErrLeaseLost) {
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func scopeOf(key string) string {
	scope, _, found := strings.Cut(key, ".")
	if !found {
		return "other"
	}
	return scope
}
