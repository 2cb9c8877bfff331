package scheduler

import (
	"context"
	"time"
)

// RunFunc is one unit of schedulable work.
//
// The context carries the per-attempt deadline and the progress reporter used
// by ReportProgress. Work that ignores the context keeps running after a
// timeout; the scheduler records the failure and moves on without it.
type RunFunc func(ctx context.Context) error

// State is the lifecycle state of a task record.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Priority orders dispatch within a single tick. Higher dispatches first.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// Config controls the scheduler service.
type Config struct {
	// Interval is the sampling interval of the polling loop. It is
	// deliberately coarser than typical task delays; scheduling precision is
	// traded for lower polling overhead.
	Interval time.Duration

	// DefaultTimeout applies when TaskConfig.Timeout is 0.
	DefaultTimeout time.Duration

	// HistorySize bounds the in-memory run-history ring used when the host
	// does not supply its own store.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// TaskConfig bundles the per-task schedule, retry policy and callbacks.
type TaskConfig struct {
	// ID identifies the task. Empty means generate one. Registering an id
	// that already exists replaces the previous task.
	ID string

	// Delay is the wait before the first run and, for repeating tasks and
	// retries, before each subsequent run.
	Delay time.Duration

	// Repeat reschedules the task after a successful run instead of
	// removing it.
	Repeat bool

	// Schedule optionally carries a cron expression ("*/5 * * * *",
	// "@hourly", "@every 90s"). When set on a repeating task it replaces
	// Delay for computing the next run after a success. Retries still use
	// Delay; retry cadence is a failure policy, not a calendar.
	Schedule string

	// Priority is a same-tick dispatch-order hint only.
	Priority Priority

	// MaxRetries bounds consecutive failures before the task parks in the
	// failed state. 0 means a single attempt per due-run.
	MaxRetries int

	// Timeout caps one attempt. 0 applies Config.DefaultTimeout.
	Timeout time.Duration

	// Callbacks fire after the corresponding state transition has been
	// applied. They run on the executing goroutine; panics are contained.
	OnSuccess  func()
	OnError    func(error)
	OnProgress func(percent int)
}

func (c TaskConfig) normalize(cfg Config) TaskConfig {
	if c.Delay < 0 {
		c.Delay = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = cfg.DefaultTimeout
	}
	if c.Priority < PriorityLow || c.Priority > PriorityHigh {
		c.Priority = PriorityNormal
	}
	return c
}

// TaskStatus is the queryable projection of one task record.
type TaskStatus struct {
	ID            string
	State         State
	Priority      Priority
	Repeat        bool
	IsRunning     bool
	RunCount      int
	RetryAttempts int

	// LastRunAt is zero until the first attempt.
	LastRunAt time.Time

	// NextRunAt is only set while the task is pending.
	NextRunAt time.Time
}

// Stats aggregates the current task table by state.
//
// Completed typically reads 0: completed one-shot records are deleted
// immediately after the transition.
type Stats struct {
	Total     int
	Running   int
	Pending   int
	Paused    int
	Completed int
	Failed    int
}
