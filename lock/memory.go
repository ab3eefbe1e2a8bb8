package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker with the same expiry semantics as
// the Redis one.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryHold
	seq  uint64
	now  func() time.Time
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryHold), now: time.Now}
}

// Acquire makes one attempt.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, ErrNotObtained
	}
	l.seq++
	l.held[key] = memoryHold{token: l.seq, expires: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: l.seq}, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[key]
	return ok && l.now().Before(h.expires)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  uint64
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Extend(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	now := l.locker.now()
	h, ok := l.locker.held[l.key]
	if !ok || h.token != l.token || !now.Before(h.expires) {
		return ErrLeaseLost
	}
	l.locker.held[l.key] = memoryHold{token: l.token, expires: now.Add(ttl)}
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if h, ok := l.locker.held[l.key]; ok && h.token == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}
