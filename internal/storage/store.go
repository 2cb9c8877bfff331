// Package storage persists the scheduler's execution history.
//
// The store is a write-only audit of run attempts for diagnostics. It is
// never read back to restore scheduler state: the task table itself lives in
// memory for the lifetime of the process only.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("storage: store closed")

// RunRecord describes one execution attempt of one task.
type RunRecord struct {
	TaskID   string
	Started  time.Time
	Duration time.Duration
	Attempt  int  // 1-based attempt number within the task's current retry window
	Timeout  bool // the attempt was cut off by the per-task timeout
	Error    string
}

type Store interface {
	// Append records one finished attempt. It must be cheap; the scheduler
	// calls it on the execution hot path.
	Append(ctx context.Context, r RunRecord) error

	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]RunRecord, error)

	Close() error
}

// NewMemory returns a Store backed by a bounded in-memory ring.
// A maxRecords <= 0 applies a default cap.
func NewMemory(maxRecords int) Store {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	return &memoryStore{max: maxRecords}
}

type memoryStore struct {
	mu      sync.Mutex
	records []RunRecord
	max     int
	closed  bool
}

func (s *memoryStore) Append(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records = append(s.records, r)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	return nil
}

func (s *memoryStore) Recent(_ context.Context, n int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n <= 0 || n > len(s.records) {
		n = len(s.records)
	}
	out := make([]RunRecord, 0, n)
	for i := len(s.records) - 1; i >= len(s.records)-n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.records = nil
	s.mu.Unlock()
	return nil
}
