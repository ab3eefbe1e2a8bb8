// Package pool bounds how many deliveries a worker process runs at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pool is closed")

// Task represents a unit of work.
type Task func(ctx context.Context) error

// GoroutinePool runs tasks on their own goroutines with at most MaxWorkers
// in flight. Submit blocks while the pool is saturated, which is what lets
// a poll loop stop taking deliveries it cannot run.
type GoroutinePool struct {
	slots chan struct{}
	wg    sync.WaitGroup
	mu    sync.RWMutex

	closed       bool
	panicHandler func(any)
	onDone       func(error)

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	MaxWorkers   int         `json:"max_workers"`
	PanicHandler func(any)   `json:"-"`
	OnDone       func(error) `json:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{MaxWorkers: 5}
}

// NewGoroutinePool creates a new goroutine pool.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultGoroutinePoolConfig().MaxWorkers
	}
	return &GoroutinePool{
		slots:        make(chan struct{}, config.MaxWorkers),
		panicHandler: config.PanicHandler,
		onDone:       config.OnDone,
	}
}

// Submit waits for a free slot, then runs task asynchronously. It returns
// ctx.Err() if the context ends first.
func (p *GoroutinePool) Submit(ctx context.Context, task Task) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.submitted.Add(1)
	go p.run(ctx, task)
	return nil
}

func (p *GoroutinePool) run(ctx context.Context, task Task) {
	defer p.wg.Done()
	defer func() { <-p.slots }()

	p.active.Add(1)
	err := p.executeTask(ctx, task)
	p.active.Add(-1)

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	if p.onDone != nil {
		p.onDone(err)
	}
}

func (p *GoroutinePool) executeTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task(ctx)
}

// Close rejects new tasks and waits for running ones to finish.
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Capacity:  cap(p.slots),
		Active:    int(p.active.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Capacity  int   `json:"capacity"`
	Active    int   `json:"active"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
