// Package tasks runs background work (document retrieval, debug payment
// confirmation) off the request path.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task types.
const (
	TypeRetrieveDocuments = "documents.retrieve"
	TypeMarkPaid          = "payment.mark_paid"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("tasks: queue closed")

// Task is one unit of background work.
type Task struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	RunAt    time.Time       `json:"run_at"`
	Attempts int             `json:"attempts,omitempty"`
}

// RetrievePayload asks for the documents of an accepted issuance.
type RetrievePayload struct {
	ExternalID   string `json:"external_id"`
	ContractType string `json:"contract_type"`
}

// MarkPaidPayload confirms a payment token without the gateway.
type MarkPaidPayload struct {
	UUID string `json:"uuid"`
}

// New builds a task of taskType carrying payload, due at runAt.
func New(taskType string, payload any, runAt time.Time) (Task, error) {
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return Task{}, fmt.Errorf("tasks: encode %s payload: %w", taskType, errMarshal)
	}
	return Task{ID: uuid.NewString(), Type: taskType, Payload: raw, RunAt: runAt.UTC()}, nil
}

// Decode unmarshals the payload into dst.
func (t Task) Decode(dst any) error {
	if errUnmarshal := json.Unmarshal(t.Payload, dst); errUnmarshal != nil {
		return fmt.Errorf("tasks: decode %s payload: %w", t.Type, errUnmarshal)
	}
	return nil
}

// Queue hands tasks from producers to the worker.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a due task is available, ctx ends or the queue is closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// Enqueuer is the producer side used by services.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) (Task, error)
}

// Dispatcher records tasks in the outcome store and pushes them onto the queue.
type Dispatcher struct {
	queue Queue
	store *Store
}

// NewDispatcher returns a dispatcher over queue and store.
func NewDispatcher(queue Queue, store *Store) *Dispatcher {
	return &Dispatcher{queue: queue, store: store}
}

// Enqueue schedules task and returns it with its assigned ID.
func (d *Dispatcher) Enqueue(ctx context.Context, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.RunAt.IsZero() {
		task.RunAt = time.Now().UTC()
	}
	if d.store != nil {
		d.store.Queued(task)
	}
	if errEnqueue := d.queue.Enqueue(ctx, task); errEnqueue != nil {
		if d.store != nil {
			d.store.Finish(task.ID, errEnqueue)
		}
		return task, fmt.Errorf("tasks: enqueue %s: %w", task.Type, errEnqueue)
	}
	return task, nil
}
