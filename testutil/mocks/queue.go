// =============================================================================
// 📬 MockQueue - 执行队列模拟实现
// =============================================================================
// 包装 queue.MemoryQueue，支持错误注入与派发回调
//
// 使用方法:
//
//	q := mocks.NewMockQueue().WithEnqueueError(errors.New("down"))
//	err := q.Enqueue(ctx, dispatch)
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/herd/queue"
)

// MockQueue 是执行队列的模拟实现
type MockQueue struct {
	*queue.MemoryQueue

	mu         sync.Mutex
	enqueueErr error
	onEnqueue  func(queue.Dispatch)
}

// NewMockQueue 创建模拟队列
func NewMockQueue() *MockQueue {
	return &MockQueue{MemoryQueue: queue.NewMemoryQueue(queue.Config{})}
}

// WithEnqueueError 让之后的 Enqueue 返回 err
func (q *MockQueue) WithEnqueueError(err error) *MockQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueErr = err
	return q
}

// OnEnqueue 注册派发回调，在派发被接受后调用
func (q *MockQueue) OnEnqueue(fn func(queue.Dispatch)) *MockQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEnqueue = fn
	return q
}

// Enqueue 实现 queue.Queue
func (q *MockQueue) Enqueue(ctx context.Context, d queue.Dispatch) error {
	q.mu.Lock()
	err, hook := q.enqueueErr, q.onEnqueue
	q.mu.Unlock()

	if err != nil {
		return err
	}
	if err := q.MemoryQueue.Enqueue(ctx, d); err != nil {
		return err
	}
	if hook != nil {
		hook(d)
	}
	return nil
}
