package scheduler

import (
	"context"
	"sort"
	"time"

	"bgtask/internal/storage"
)

// Snapshot is a point-in-time diagnostic view of the scheduler: loop state,
// per-state counts, every task projection and recent run history.
type Snapshot struct {
	LoopRunning bool
	Interval    time.Duration
	Stats       Stats
	Tasks       []TaskStatus
	History     []storage.RunRecord
}

// Snapshot collects the diagnostic view. historyN bounds the history slice;
// <= 0 applies the store default.
func (s *Service) Snapshot(historyN int) Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		LoopRunning: s.loopCh != nil,
		Interval:    s.cfg.Interval,
		Stats:       Stats{Total: len(s.tasks)},
		Tasks:       make([]TaskStatus, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		switch t.state {
		case StateRunning:
			snap.Stats.Running++
		case StatePending:
			snap.Stats.Pending++
		case StatePaused:
			snap.Stats.Paused++
		case StateCompleted:
			snap.Stats.Completed++
		case StateFailed:
			snap.Stats.Failed++
		}
		snap.Tasks = append(snap.Tasks, t.status())
	}
	store := s.store
	s.mu.Unlock()

	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if hist, err := store.Recent(ctx, historyN); err == nil {
		snap.History = hist
	}
	return snap
}
