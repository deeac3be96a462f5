package tasks

import (
	"strings"
	"sync"
	"time"
)

// Outcome states.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is the observable outcome of a task.
type Record struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Store keeps task outcomes in memory for a bounded time.
type Store struct {
	mu       sync.Mutex
	records  map[string]*Record
	order    []string
	ttl      time.Duration
	maxTasks int
	now      func() time.Time
}

// NewStore returns a store that forgets finished tasks after ttl and keeps at most maxTasks.
func NewStore(ttl time.Duration, maxTasks int) *Store {
	return &Store{
		records:  make(map[string]*Record),
		order:    make([]string, 0),
		ttl:      ttl,
		maxTasks: maxTasks,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Queued registers task as waiting.
func (s *Store) Queued(task Task) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record, ok := s.records[task.ID]
	if !ok {
		record = &Record{ID: task.ID, Type: task.Type, CreatedAt: now}
		s.records[task.ID] = record
		s.order = append(s.order, task.ID)
	}
	record.Status = StatusQueued
	record.FinishedAt = nil
	s.cleanupExpiredLocked(now)
	s.enforceMaxTasksLocked()

	return cloneRecord(record)
}

// Start marks the task running. Tasks enqueued by another process are registered on first sight.
func (s *Store) Start(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	record, ok := s.records[task.ID]
	if !ok {
		record = &Record{ID: task.ID, Type: task.Type, CreatedAt: now}
		s.records[task.ID] = record
		s.order = append(s.order, task.ID)
	}
	record.Status = StatusRunning
	record.Attempts = task.Attempts + 1
	record.StartedAt = &now
	record.FinishedAt = nil
}

// Finish records the final state of one attempt.
func (s *Store) Finish(taskID string, errRun error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return false
	}
	finishedAt := s.now()
	record.FinishedAt = &finishedAt
	if errRun != nil {
		record.Status = StatusFailed
		record.LastError = strings.TrimSpace(errRun.Error())
	} else {
		record.Status = StatusSuccess
	}
	s.cleanupExpiredLocked(finishedAt)
	s.enforceMaxTasksLocked()

	return true
}

// Get returns a copy of the record for taskID.
func (s *Store) Get(taskID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpiredLocked(s.now())
	s.enforceMaxTasksLocked()

	record, ok := s.records[taskID]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(record), true
}

func (s *Store) cleanupExpiredLocked(now time.Time) {
	if s.ttl <= 0 || len(s.order) == 0 {
		return
	}

	kept := make([]string, 0, len(s.order))
	for _, taskID := range s.order {
		record, ok := s.records[taskID]
		if !ok {
			continue
		}
		if record.FinishedAt != nil && now.Sub(*record.FinishedAt) >= s.ttl {
			delete(s.records, taskID)
			continue
		}
		kept = append(kept, taskID)
	}
	s.order = kept
}

func (s *Store) enforceMaxTasksLocked() {
	if s.maxTasks <= 0 {
		return
	}
	for len(s.records) > s.maxTasks {
		index := s.oldestFinishedIndexLocked()
		if index < 0 {
			// Unfinished tasks are never evicted.
			return
		}
		taskID := s.order[index]
		delete(s.records, taskID)
		s.order = append(s.order[:index], s.order[index+1:]...)
	}
}

func (s *Store) oldestFinishedIndexLocked() int {
	for i, taskID := range s.order {
		record, ok := s.records[taskID]
		if ok && record.FinishedAt != nil {
			return i
		}
	}
	return -1
}

func cloneRecord(src *Record) Record {
	if src == nil {
		return Record{}
	}
	cloned := *src
	if src.StartedAt != nil {
		startedAt := *src.StartedAt
		cloned.StartedAt = &startedAt
	}
	if src.FinishedAt != nil {
		finishedAt := *src.FinishedAt
		cloned.FinishedAt = &finishedAt
	}
	return cloned
}
