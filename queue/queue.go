// Package queue is the execution queue contract herd dispatches jobs to,
// with a Redis adapter for production and an in-memory one for tests.
//
// Delivery is at-least-once: a dequeued dispatch that is neither acked nor
// nacked within the visibility timeout is delivered again. Nacked
// dispatches are redelivered with backoff until MaxDeliveries, then moved to
// a dead-letter list.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/retry"
)

// ErrEmpty is returned by Dequeue when nothing is ready.
var ErrEmpty = errors.New("queue is empty")

// Dispatch asks a worker to run one job.
type Dispatch struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	JobName    string    `json:"job_name"`
	JobType    string    `json:"job_type"`
	JobID      string    `json:"job_id"`
	Queue      string    `json:"queue"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`

	// Delay postpones the first delivery; not serialized.
	Delay time.Duration `json:"-"`
}

// Delivery is a dequeued dispatch. Receipt identifies this delivery for
// Ack and Nack.
type Delivery struct {
	Dispatch
	Receipt string
}

// Queue accepts dispatches.
type Queue interface {
	Enqueue(ctx context.Context, d Dispatch) error
}

// Consumer takes dispatches off a named queue.
type Consumer interface {
	Dequeue(ctx context.Context, queue string) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery, cause error) error
}

// Broker is both ends of the queue.
type Broker interface {
	Queue
	Consumer
	Stats(ctx context.Context, queue string) (Stats, error)
}

// Stats counts dispatches per state.
type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// Config controls redelivery.
type Config struct {
	Namespace         string
	VisibilityTimeout time.Duration
	MaxDeliveries     int
	RetryBackoff      time.Duration
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig())
}

// ConfigFrom reads the queue section of the engine config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Namespace:         cfg.Herd.Namespace,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
		RetryBackoff:      cfg.Queue.RetryBackoff,
	}
}

func (c Config) normalize() Config {
	if c.Namespace == "" {
		c.Namespace = "herd"
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 25
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 15 * time.Second
	}
	return c
}

// redeliveryDelay is the wait before delivery number attempt+1.
func (c Config) redeliveryDelay(attempt int) time.Duration {
	policy := retry.New(&retry.Policy{
		MaxAttempts:  c.MaxDeliveries,
		InitialDelay: c.RetryBackoff,
		MaxDelay:     time.Hour,
		Multiplier:   2,
		Jitter:       0.25,
	}, nil).Policy()
	return policy.Backoff(attempt)
}
