// Package lock provides the distributed mutex that serializes racing state
// transitions between workers.
//
// A Locker is a single non-blocking acquire attempt against a backend
// (Redis in production, memory in tests). Mutex wraps it in a bounded,
// jittered retry loop and runs a critical section while the lease is held.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned by Locker.Acquire when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// ErrLeaseLost is returned by Lease.Extend when the lease expired or was
// taken over.
var ErrLeaseLost = errors.New("lock lease lost")

// Lease is a held lock. Release is safe to call more than once and never
// removes a lock that has since been taken by someone else. Extend resets
// the TTL while the lease is still ours.
type Lease interface {
	Key() string
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker makes a single acquisition attempt.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

const (
	// ScopeNext guards the ready-check-then-enqueue of a downstream job.
	ScopeNext = "next"
	// ScopeFinish guards the finish transition of a job.
	ScopeFinish = "finish"
)

// NextKey is the lock contended by every predecessor of a downstream job.
func NextKey(jobName string) string {
	return ScopeNext + "." + jobName
}

// FinishKey is the lock guarding a job's own finish transition.
func FinishKey(jobName string) string {
	return ScopeFinish + "." + jobName
}
