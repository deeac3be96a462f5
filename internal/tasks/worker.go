package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handler executes one task.
type Handler func(ctx context.Context, task Task) error

const (
	defaultWorkerConcurrency = 2
	defaultMaxAttempts       = 3
	defaultRetryBackoff      = 10 * time.Second
)

// Worker consumes a queue and dispatches tasks to handlers by type.
type Worker struct {
	queue       Queue
	store       *Store
	handlers    map[string]Handler
	concurrency int
	maxAttempts int
	backoff     time.Duration

	wg sync.WaitGroup
}

// NewWorker returns a worker with concurrency consumers.
func NewWorker(queue Queue, store *Store, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	return &Worker{
		queue:       queue,
		store:       store,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
	}
}

// Handle registers handler for taskType. Call before Start.
func (w *Worker) Handle(taskType string, handler Handler) {
	w.handlers[taskType] = handler
}

// Start launches the consumers. They stop when ctx ends or the queue closes.
func (w *Worker) Start(ctx context.Context) {
	if w == nil || w.queue == nil {
		return
	}
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx)
	}
}

// Wait blocks until all consumers have returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	defer w.wg.Done()
	for {
		task, errDequeue := w.queue.Dequeue(ctx)
		if errDequeue != nil {
			if errors.Is(errDequeue, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			log.WithError(errDequeue).Warn("tasks: dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.Run(ctx, task)
	}
}

// Run executes task once and schedules a retry on failure while attempts remain.
func (w *Worker) Run(ctx context.Context, task Task) {
	if w.store != nil {
		w.store.Start(task)
	}
	errRun := w.execute(ctx, task)
	if errRun == nil {
		if w.store != nil {
			w.store.Finish(task.ID, nil)
		}
		return
	}

	task.Attempts++
	entry := log.WithError(errRun).WithFields(log.Fields{"task": task.ID, "type": task.Type, "attempt": task.Attempts})
	if task.Attempts >= w.maxAttempts || ctx.Err() != nil {
		entry.Error("tasks: task failed")
		if w.store != nil {
			w.store.Finish(task.ID, errRun)
		}
		return
	}
	entry.Warn("tasks: task failed, retrying")
	task.RunAt = time.Now().UTC().Add(time.Duration(task.Attempts) * w.backoff)
	if w.store != nil {
		w.store.Queued(task)
	}
	if errRequeue := w.queue.Enqueue(ctx, task); errRequeue != nil {
		log.WithError(errRequeue).Errorf("tasks: requeue %s failed", task.ID)
		if w.store != nil {
			w.store.Finish(task.ID, errRun)
		}
	}
}

func (w *Worker) execute(ctx context.Context, task Task) (errRun error) {
	handler, ok := w.handlers[task.Type]
	if !ok {
		return fmt.Errorf("tasks: no handler for %q", task.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			errRun = fmt.Errorf("tasks: handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}
