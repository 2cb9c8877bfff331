package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"bgtask/internal/storage"
	logx "bgtask/pkg/logx"
)

// execute runs one dispatched attempt. The record was already transitioned to
// running (and runCount incremented) under the table lock; run and cfg are
// copies taken at dispatch time so the record is never read without the lock.
func (s *Service) execute(t *task, run RunFunc, cfg TaskConfig, attempt int, started time.Time) {
	defer s.execWG.Done()

	s.log.Debug("task started", logx.String("task", t.id), logx.Int("attempt", attempt))
	s.publish(EventStarted, TaskEvent{ID: t.id, Started: started, Attempt: attempt})

	runCtx, cancel := context.WithTimeout(s.runCtx, cfg.Timeout)
	runCtx = withProgress(runCtx, s.progressReporter(t.id, cfg.OnProgress))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panic",
					logx.String("task", t.id),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- run(runCtx)
	}()

	// Race the work against the per-attempt timer. On timeout the underlying
	// work may keep running; we only stop waiting for it.
	var err error
	timer := time.NewTimer(cfg.Timeout)
	select {
	case err = <-done:
		if !timer.Stop() {
			<-timer.C
		}
	case <-timer.C:
		err = &TimeoutError{TaskID: t.id, Limit: cfg.Timeout}
	case <-s.runCtx.Done():
		if !timer.Stop() {
			<-timer.C
		}
		cancel()
		// Shutting down: leave the record as-is and fire no callbacks.
		return
	}
	cancel()

	dur := time.Since(started)
	finish := time.Now()

	var (
		removed  bool
		retrying bool
	)
	s.mu.Lock()
	cur, ok := s.tasks[t.id]
	if !ok || cur != t {
		// Removed or replaced while running; the result no longer applies.
		s.mu.Unlock()
		s.log.Debug("task result discarded", logx.String("task", t.id))
		s.appendHistory(t.id, started, dur, attempt, err)
		return
	}
	if err == nil {
		t.retryAttempts = 0
		if t.cfg.Repeat {
			t.state = StatePending
			t.nextRunAt = t.nextAfter(finish)
		} else {
			// Completed is transient: the record is gone before anyone can
			// observe the state.
			t.state = StateCompleted
			delete(s.tasks, t.id)
			removed = true
			if len(s.tasks) == 0 {
				s.stopLoopLocked()
			}
		}
	} else {
		t.retryAttempts++
		if t.retryAttempts <= t.cfg.MaxRetries {
			t.state = StatePending
			t.nextRunAt = finish.Add(t.cfg.Delay)
			retrying = true
		} else {
			t.state = StateFailed
		}
	}
	s.mu.Unlock()

	// Callbacks fire after the state mutation, per the registry contract.
	if err == nil {
		s.log.Debug("task completed",
			logx.String("task", t.id),
			logx.Duration("dur", dur),
			logx.Int("attempt", attempt),
			logx.Bool("removed", removed))
		s.publish(EventCompleted, TaskEvent{ID: t.id, Started: started, Duration: dur, Attempt: attempt})
		if cfg.OnSuccess != nil {
			s.invokeCallback(t.id, cfg.OnSuccess)
		}
	} else {
		if retrying {
			s.log.Debug("task failed; retrying",
				logx.String("task", t.id),
				logx.Err(err),
				logx.Int("attempt", attempt),
				logx.Duration("dur", dur))
			s.publish(EventRetry, TaskEvent{ID: t.id, Started: started, Duration: dur, Attempt: attempt, Error: err.Error()})
		} else {
			s.log.Warn("task failed; retries exhausted",
				logx.String("task", t.id),
				logx.Err(err),
				logx.Int("attempt", attempt),
				logx.Duration("dur", dur))
			s.publish(EventFailed, TaskEvent{ID: t.id, Started: started, Duration: dur, Attempt: attempt, Error: err.Error()})
		}
		// OnError fires on every failed attempt, not just the terminal one.
		if cfg.OnError != nil {
			cbErr := err
			s.invokeCallback(t.id, func() { cfg.OnError(cbErr) })
		}
	}

	s.appendHistory(t.id, started, dur, attempt, err)
}

// invokeCallback contains panics from host callbacks so they can never take
// down the loop or other tasks.
func (s *Service) invokeCallback(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("callback panic", logx.String("task", id), logx.Any("panic", r))
		}
	}()
	fn()
}

func (s *Service) appendHistory(id string, started time.Time, dur time.Duration, attempt int, err error) {
	rec := storage.RunRecord{
		TaskID:   id,
		Started:  started,
		Duration: dur,
		Attempt:  attempt,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Timeout = IsTimeout(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if aerr := s.store.Append(ctx, rec); aerr != nil && aerr != storage.ErrClosed {
		s.log.Warn("run history append failed", logx.String("task", id), logx.Err(aerr))
	}
}
