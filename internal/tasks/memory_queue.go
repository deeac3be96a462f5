package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue used when Redis is not configured.
// Tasks are lost on restart.
type MemoryQueue struct {
	ready  chan Task
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed chan struct{}
	once   sync.Once
}

// NewMemoryQueue returns a queue buffering up to size ready tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		ready:  make(chan Task, size),
		timers: make(map[string]*time.Timer),
		closed: make(chan struct{}),
	}
}

// Enqueue pushes task now, or once its RunAt has passed.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	delay := time.Until(task.RunAt)
	if delay <= 0 {
		return q.push(ctx, task)
	}
	q.mu.Lock()
	q.timers[task.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, task.ID)
		q.mu.Unlock()
		_ = q.push(context.Background(), task)
	})
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) push(ctx context.Context, task Task) error {
	select {
	case q.ready <- task:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue waits for the next due task.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task := <-q.ready:
		return task, nil
	case <-q.closed:
		return Task{}, ErrQueueClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Close stops pending timers and wakes blocked consumers.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		for id, timer := range q.timers {
			timer.Stop()
			delete(q.timers, id)
		}
		q.mu.Unlock()
		close(q.closed)
	})
	return nil
}
