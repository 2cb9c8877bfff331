package scheduler

import (
	"context"
	"sync"
	"time"

	"bgtask/internal/eventbus"
	"bgtask/internal/storage"
	logx "bgtask/pkg/logx"
)

// Service owns the task table and the polling loop.
//
// Multiple independent services can coexist; there is no process-wide state.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	// ownStore marks a store created by New, closed on Shutdown.
	ownStore bool

	tasks map[string]*task

	// loopCh is non-nil while the polling loop is alive; closing it stops
	// the loop. Guarded by mu.
	loopCh chan struct{}
	loopWG sync.WaitGroup
	execWG sync.WaitGroup

	// runCtx is the parent of every attempt context; Shutdown cancels it so
	// cooperative work can stop early.
	runCtx    context.Context
	runCancel context.CancelFunc

	shuttingDown bool
}

// New creates a scheduler. bus and store may be nil: events are then dropped
// and run history falls back to an in-memory ring sized by cfg.HistorySize.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	cfg = cfg.withDefaults()
	own := false
	if store == nil {
		store = storage.NewMemory(cfg.HistorySize)
		own = true
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		store:     store,
		ownStore:  own,
		tasks:     map[string]*task{},
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Apply updates scheduler settings at runtime. A changed sampling interval
// restarts the polling loop; registered tasks are untouched.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	restart := s.loopCh != nil && cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	if restart {
		s.stopLoopLocked()
		s.ensureLoopLocked()
	}
}

// ensureLoopLocked starts the polling loop if it is not already running.
// Call with s.mu held.
func (s *Service) ensureLoopLocked() {
	if s.loopCh != nil || s.shuttingDown {
		return
	}
	stop := make(chan struct{})
	s.loopCh = stop
	interval := s.cfg.Interval
	s.loopWG.Add(1)
	go s.loop(stop, interval)
	s.log.Debug("polling loop started", logx.Duration("interval", interval))
}

// stopLoopLocked stops the polling loop if running. Call with s.mu held.
func (s *Service) stopLoopLocked() {
	if s.loopCh == nil {
		return
	}
	close(s.loopCh)
	s.loopCh = nil
	s.log.Debug("polling loop stopped")
}

func (s *Service) loop(stop <-chan struct{}, interval time.Duration) {
	defer s.loopWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick selects the due set and dispatches it. It never blocks on execution:
// each due task runs on its own goroutine and the next tick fires on
// schedule regardless of in-flight work. Missed ticks are not replayed; only
// the wall-clock due check matters.
func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) == 0 {
		s.stopLoopLocked()
		return
	}

	var due []*task
	for _, t := range s.tasks {
		if t.state == StatePending && !now.Before(t.nextRunAt) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return
	}
	sortByPriority(due)

	for _, t := range due {
		// Transition under the lock so the task cannot be selected again
		// while this execution is in flight.
		t.state = StateRunning
		t.lastRunAt = now
		t.runCount++
		attempt := t.retryAttempts + 1
		s.execWG.Add(1)
		go s.execute(t, t.run, t.cfg, attempt, now)
	}
}

// Shutdown stops the polling loop, cancels the attempt contexts, waits for
// in-flight executions up to the context deadline, and closes the run store
// if the service owns it. The service cannot be reused afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	already := s.shuttingDown
	s.shuttingDown = true
	s.stopLoopLocked()
	s.mu.Unlock()
	if !already {
		s.runCancel()
	}

	done := make(chan struct{})
	go func() {
		s.loopWG.Wait()
		s.execWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if !already && s.ownStore {
		_ = s.store.Close()
	}
	s.log.Info("scheduler shut down", logx.Err(err))
	return err
}

// loopRunning reports whether the polling loop is alive. Test helper.
func (s *Service) loopRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopCh != nil
}
