package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/pool"
	"github.com/BaSui01/herd/queue"
)

// =============================================================================
// 🏭 Worker 进程：轮询执行队列并并发执行
// =============================================================================

// PoolConfig 配置 worker 进程
type PoolConfig struct {
	// 消费的队列名
	Queues []string
	// 同时执行的投递数
	Concurrency int
	// 每个队列每秒最多轮询次数
	PollRate float64
	// 队列为空时的等待时间
	IdleInterval time.Duration
}

// PoolConfigFrom 从全局配置构造
func PoolConfigFrom(cfg *config.Config) PoolConfig {
	return PoolConfig{
		Queues:       cfg.QueueNames(),
		Concurrency:  cfg.Herd.Concurrency,
		PollRate:     cfg.Queue.PollRate,
		IdleInterval: 200 * time.Millisecond,
	}
}

func (c PoolConfig) normalize() PoolConfig {
	if len(c.Queues) == 0 {
		c.Queues = []string{"herd"}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollRate <= 0 {
		c.PollRate = 20
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 200 * time.Millisecond
	}
	return c
}

// Pool 从队列取出投递，交给 Worker 执行，成功 ack，失败 nack
type Pool struct {
	worker   *Worker
	consumer queue.Consumer
	config   PoolConfig
	logger   *zap.Logger

	tasks *pool.GoroutinePool
}

// NewPool 创建 worker 进程
func NewPool(w *Worker, consumer queue.Consumer, cfg PoolConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalize()
	logger = logger.With(zap.String("component", "worker_pool"))

	return &Pool{
		worker:   w,
		consumer: consumer,
		config:   cfg,
		logger:   logger,
		tasks: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers: cfg.Concurrency,
			PanicHandler: func(r any) {
				logger.Error("delivery panicked", zap.Any("panic", r))
			},
		}),
	}
}

// Run 轮询所有队列直到 ctx 结束，然后等待执行中的投递完成
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		zap.Strings("queues", p.config.Queues),
		zap.Int("concurrency", p.config.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range p.config.Queues {
		name := name
		g.Go(func() error { return p.poll(gctx, name) })
	}
	err := g.Wait()

	// 执行中的投递不随 ctx 取消，等待它们 ack/nack
	p.tasks.Close()
	p.logger.Info("worker pool stopped", zap.Any("stats", p.tasks.Stats()))

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Stats 返回执行池统计
func (p *Pool) Stats() pool.GoroutinePoolStats {
	return p.tasks.Stats()
}

func (p *Pool) poll(ctx context.Context, name string) error {
	limiter := rate.NewLimiter(rate.Limit(p.config.PollRate), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		d, err := p.consumer.Dequeue(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, queue.ErrEmpty) {
				p.logger.Warn("dequeue failed", zap.String("queue", name), zap.Error(err))
			}
			if err := sleep(ctx, p.config.IdleInterval); err != nil {
				return err
			}
			continue
		}

		if err := p.tasks.Submit(ctx, p.deliver(d)); err != nil {
			// 没能执行，交还给队列
			if nackErr := p.consumer.Nack(context.WithoutCancel(ctx), d, err); nackErr != nil {
				p.logger.Warn("nack failed", zap.String("job", d.JobName), zap.Error(nackErr))
			}
			return err
		}
	}
}

func (p *Pool) deliver(d *queue.Delivery) pool.Task {
	return func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		logger := p.logger.With(
			zap.String("workflow_id", d.WorkflowID),
			zap.String("job", d.JobName),
			zap.Int("attempt", d.Attempt),
		)

		if err := p.worker.Perform(ctx, d.Dispatch); err != nil {
			logger.Warn("delivery failed", zap.Error(err))
			if nackErr := p.consumer.Nack(ctx, d, err); nackErr != nil {
				logger.Error("nack failed", zap.Error(nackErr))
			}
			return err
		}
		if err := p.consumer.Ack(ctx, d); err != nil {
			logger.Error("ack failed", zap.Error(err))
			return err
		}
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
