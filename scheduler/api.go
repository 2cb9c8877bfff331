package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "bgtask/pkg/logx"
)

// Add registers a task and returns its id, generating one when cfg.ID is
// empty. Registering an existing id replaces that task. Adding the first
// task starts the polling loop.
func (s *Service) Add(run RunFunc, cfg TaskConfig) (string, error) {
	if run == nil {
		return "", ErrNilRun
	}
	sched, err := compileSchedule(cfg.Schedule)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = uuid.NewString()
	}
	cfg.ID = id

	now := time.Now()
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	cfg = cfg.normalize(s.cfg)
	t := &task{
		id:    id,
		run:   run,
		cfg:   cfg,
		sched: sched,
		state: StatePending,
	}
	t.nextRunAt = t.nextAfter(now)
	s.tasks[id] = t
	s.ensureLoopLocked()
	s.mu.Unlock()

	s.log.Debug("task added",
		logx.String("task", id),
		logx.Duration("delay", cfg.Delay),
		logx.Bool("repeat", cfg.Repeat),
		logx.String("priority", cfg.Priority.String()))
	return id, nil
}

// Update replaces the work and configuration of the task with the given id,
// resetting its state to pending and its schedule to now + delay. Run and
// retry counters are preserved. An unknown id behaves like Add with that id.
func (s *Service) Update(id string, run RunFunc, cfg TaskConfig) error {
	if run == nil {
		return ErrNilRun
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("scheduler: update requires an id")
	}
	sched, err := compileSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	cfg.ID = id

	now := time.Now()
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	cfg = cfg.normalize(s.cfg)
	t, ok := s.tasks[id]
	if !ok {
		t = &task{id: id}
		s.tasks[id] = t
	}
	// Mutate in place so a result from an in-flight execution still applies
	// to this record.
	t.run = run
	t.cfg = cfg
	t.sched = sched
	t.state = StatePending
	t.nextRunAt = t.nextAfter(now)
	s.ensureLoopLocked()
	s.mu.Unlock()

	s.log.Debug("task updated", logx.String("task", id), logx.Bool("existing", ok))
	return nil
}

// Remove deletes the task if present. Removing the last task stops the
// polling loop. Unknown ids are a no-op.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	if _, ok := s.tasks[id]; ok {
		delete(s.tasks, id)
		if len(s.tasks) == 0 {
			s.stopLoopLocked()
		}
		s.log.Debug("task removed", logx.String("task", id))
	}
	s.mu.Unlock()
}

// RemoveAll clears the task table and stops the polling loop.
func (s *Service) RemoveAll() {
	s.mu.Lock()
	n := len(s.tasks)
	s.tasks = map[string]*task{}
	s.stopLoopLocked()
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("all tasks removed", logx.Int("count", n))
	}
}

// Pause parks the task so it is never selected as due. It reports whether a
// state change happened (false for unknown or already-paused ids).
// Pausing takes effect reliably only for pending tasks: an execution already
// in flight applies its completion transition over the pause.
func (s *Service) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.state == StatePaused {
		return false
	}
	t.state = StatePaused
	return true
}

// Resume returns a paused task to pending, re-applying its configured delay
// (or cron slot) from now. It reports whether a state change happened.
func (s *Service) Resume(id string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.state != StatePaused {
		return false
	}
	t.state = StatePending
	t.nextRunAt = t.nextAfter(now)
	s.ensureLoopLocked()
	return true
}

// IsRunning reports whether the task exists and an execution is in flight.
func (s *Service) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return ok && t.state == StateRunning
}

// Status returns the projection of one task, or false for unknown ids
// (including one-shot tasks that already completed and were removed).
func (s *Service) Status(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return t.status(), true
}

// All returns the projection of every task, keyed by id.
func (s *Service) All() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStatus, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.status()
	}
	return out
}

// Stats aggregates the live task table by state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.state {
		case StateRunning:
			st.Running++
		case StatePending:
			st.Pending++
		case StatePaused:
			st.Paused++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

func compileSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	sched, err := parseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}
