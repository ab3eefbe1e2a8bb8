package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Broker. It also keeps every accepted
// dispatch so tests can assert what was enqueued.
type MemoryQueue struct {
	mu         sync.Mutex
	config     Config
	ready      map[string][]memoryEntry
	processing map[string]memoryEntry
	dead       map[string][]Dispatch
	history    []Dispatch
	now        func() time.Time
}

type memoryEntry struct {
	dispatch Dispatch
	due      time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		config:     cfg.normalize(),
		ready:      make(map[string][]memoryEntry),
		processing: make(map[string]memoryEntry),
		dead:       make(map[string][]Dispatch),
		now:        time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, d Dispatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if d.Queue == "" {
		d.Queue = q.config.Namespace
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := q.now()
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = now.UTC()
	}
	q.history = append(q.history, d)
	q.push(memoryEntry{dispatch: d, due: now.Add(d.Delay)})
	return nil
}

func (q *MemoryQueue) push(e memoryEntry) {
	entries := append(q.ready[e.dispatch.Queue], e)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].due.Before(entries[j].due) })
	q.ready[e.dispatch.Queue] = entries
}

func (q *MemoryQueue) Dequeue(_ context.Context, queue string) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for receipt, e := range q.processing {
		if e.dispatch.Queue != queue || e.due.After(now) {
			continue
		}
		delete(q.processing, receipt)
		if e.dispatch.Attempt >= q.config.MaxDeliveries {
			q.dead[queue] = append(q.dead[queue], e.dispatch)
			continue
		}
		q.push(memoryEntry{dispatch: e.dispatch, due: now})
	}

	entries := q.ready[queue]
	if len(entries) == 0 || entries[0].due.After(now) {
		return nil, ErrEmpty
	}
	e := entries[0]
	q.ready[queue] = entries[1:]

	d := e.dispatch
	d.Attempt++
	receipt := uuid.NewString()
	q.processing[receipt] = memoryEntry{dispatch: d, due: now.Add(q.config.VisibilityTimeout)}
	return &Delivery{Dispatch: d, Receipt: receipt}, nil
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, d.Receipt)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, d *Delivery, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.processing[d.Receipt]; !ok {
		return nil
	}
	delete(q.processing, d.Receipt)

	next := d.Dispatch
	if cause != nil {
		next.LastError = cause.Error()
	}
	if next.Attempt >= q.config.MaxDeliveries {
		q.dead[next.Queue] = append(q.dead[next.Queue], next)
		return nil
	}
	q.push(memoryEntry{dispatch: next, due: q.now().Add(q.config.redeliveryDelay(next.Attempt))})
	return nil
}

func (q *MemoryQueue) Stats(_ context.Context, queue string) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Ready: int64(len(q.ready[queue])), Dead: int64(len(q.dead[queue]))}
	for _, e := range q.processing {
		if e.dispatch.Queue == queue {
			stats.Processing++
		}
	}
	return stats, nil
}

// Dispatches returns every dispatch accepted so far, in order.
func (q *MemoryQueue) Dispatches() []Dispatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Dispatch, len(q.history))
	copy(out, q.history)
	return out
}

// Count returns how many times a job was enqueued.
func (q *MemoryQueue) Count(jobName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, d := range q.history {
		if d.JobName == jobName {
			n++
		}
	}
	return n
}
