package scheduler

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// task is one record in the in-memory task table.
//
// All fields are guarded by Service.mu. Executions receive copies of run/cfg
// taken at dispatch time so they never read a record without the lock.
type task struct {
	id    string
	run   RunFunc
	cfg   TaskConfig
	sched cron.Schedule // non-nil when cfg.Schedule parsed

	state         State
	nextRunAt     time.Time
	lastRunAt     time.Time
	runCount      int
	retryAttempts int
}

// nextAfter computes the next scheduled run following a success (or the run
// applied on add/update/resume): the cron slot when a schedule is set,
// otherwise now + delay.
func (t *task) nextAfter(now time.Time) time.Time {
	if t.sched != nil {
		return t.sched.Next(now)
	}
	return now.Add(t.cfg.Delay)
}

func (t *task) status() TaskStatus {
	st := TaskStatus{
		ID:            t.id,
		State:         t.state,
		Priority:      t.cfg.Priority,
		Repeat:        t.cfg.Repeat,
		IsRunning:     t.state == StateRunning,
		RunCount:      t.runCount,
		RetryAttempts: t.retryAttempts,
		LastRunAt:     t.lastRunAt,
	}
	if t.state == StatePending {
		st.NextRunAt = t.nextRunAt
	}
	return st
}

// sortByPriority orders a due set for dispatch: high first, stable within
// equal priorities.
func sortByPriority(ts []*task) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].cfg.Priority > ts[j].cfg.Priority
	})
}

func parseSchedule(spec string) (cron.Schedule, error) {
	return cron.ParseStandard(spec)
}
