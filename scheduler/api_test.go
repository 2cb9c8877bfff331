package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAddGeneratesIDAndDefaults(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	id, err := s.Add(func(context.Context) error { return nil }, TaskConfig{Delay: time.Hour})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("generated id %q is not a uuid: %v", id, err)
	}

	st, ok := s.Status(id)
	if !ok {
		t.Fatal("task not queryable after Add")
	}
	if st.State != StatePending || st.Priority != PriorityNormal {
		t.Fatalf("unexpected defaults: %+v", st)
	}
	if st.RunCount != 0 || st.RetryAttempts != 0 {
		t.Fatalf("fresh task has history: %+v", st)
	}
	if !st.LastRunAt.IsZero() {
		t.Fatalf("LastRunAt set before first run: %v", st.LastRunAt)
	}
	if until := time.Until(st.NextRunAt); until < 55*time.Minute {
		t.Fatalf("NextRunAt %v from now, want ~1h", until)
	}
}

func TestAddNilRun(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	if _, err := s.Add(nil, TaskConfig{}); !errors.Is(err, ErrNilRun) {
		t.Fatalf("Add(nil) = %v, want ErrNilRun", err)
	}
	if err := s.Update("x", nil, TaskConfig{}); !errors.Is(err, ErrNilRun) {
		t.Fatalf("Update(nil) = %v, want ErrNilRun", err)
	}
}

func TestAddReplacesExistingID(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var first, second atomic.Int32
	if _, err := s.Add(func(context.Context) error { first.Add(1); return nil },
		TaskConfig{ID: "job", Delay: time.Hour}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(func(context.Context) error { second.Add(1); return nil },
		TaskConfig{ID: "job"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if n := len(s.All()); n != 1 {
		t.Fatalf("table size = %d, want 1 (upsert)", n)
	}
	waitFor(t, 2*time.Second, "replacement runs", func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Fatal("replaced task executed")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	id, _ := s.Add(func(context.Context) error { return nil }, TaskConfig{Delay: time.Hour})
	s.Remove(id)
	s.Remove(id)        // second remove: no-op
	s.Remove("unknown") // never-existing id: no-op

	if _, ok := s.Status(id); ok {
		t.Fatal("task still present after Remove")
	}
}

func TestUpdateUnknownBehavesLikeAdd(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var runs atomic.Int32
	if err := s.Update("fresh", func(context.Context) error {
		runs.Add(1)
		return nil
	}, TaskConfig{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !s.loopRunning() {
		t.Fatal("loop did not start on Update of unknown id")
	}
	waitFor(t, 2*time.Second, "upserted task run", func() bool { return runs.Load() == 1 })
}

func TestUpdatePreservesCounters(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var runs atomic.Int32
	id, err := s.Add(func(context.Context) error {
		runs.Add(1)
		return nil
	}, TaskConfig{ID: "counted", Repeat: true, Delay: time.Hour})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	// The hour-long delay keeps the task from firing on its own; updating with
	// zero delay forces a run, then the second update parks it again.
	if err := s.Update(id, func(context.Context) error { runs.Add(1); return nil },
		TaskConfig{Repeat: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, 2*time.Second, "first run", func() bool { return runs.Load() >= 1 })

	if err := s.Update(id, func(context.Context) error { return nil },
		TaskConfig{Repeat: true, Delay: time.Hour}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	st, ok := s.Status(id)
	if !ok {
		t.Fatal("task missing after Update")
	}
	if st.RunCount < 1 {
		t.Fatalf("RunCount reset by Update: %+v", st)
	}
	if st.State != StatePending {
		t.Fatalf("State = %v after Update, want pending", st.State)
	}
	if until := time.Until(st.NextRunAt); until < 55*time.Minute {
		t.Fatalf("Update did not re-apply delay: next run in %v", until)
	}
}

func TestIsRunning(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	if s.IsRunning("unknown") {
		t.Fatal("IsRunning true for unknown id")
	}

	release := make(chan struct{})
	started := make(chan struct{})
	id, _ := s.Add(func(context.Context) error {
		close(started)
		<-release
		return nil
	}, TaskConfig{})

	<-started
	if !s.IsRunning(id) {
		t.Fatal("IsRunning false while execution in flight")
	}
	close(release)
	waitFor(t, 2*time.Second, "completion", func() bool { return !s.IsRunning(id) })
}

func TestRemoveAllClearsAndStopsLoop(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		if _, err := s.Add(func(context.Context) error { return nil },
			TaskConfig{Delay: time.Hour}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if n := len(s.All()); n != 3 {
		t.Fatalf("table size = %d, want 3", n)
	}

	s.RemoveAll()
	if n := len(s.All()); n != 0 {
		t.Fatalf("table size = %d after RemoveAll, want 0", n)
	}
	if s.loopRunning() {
		t.Fatal("loop still running after RemoveAll")
	}
}

func TestStatsConsistency(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	// One parked pending task, one paused, one that fails terminally.
	if _, err := s.Add(func(context.Context) error { return nil },
		TaskConfig{ID: "pending", Delay: time.Hour}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	pausedID, _ := s.Add(func(context.Context) error { return nil },
		TaskConfig{ID: "paused", Delay: time.Hour})
	s.Pause(pausedID)
	if _, err := s.Add(func(context.Context) error { return errors.New("nope") },
		TaskConfig{ID: "failing"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, 3*time.Second, "terminal failure", func() bool {
		st, ok := s.Status("failing")
		return ok && st.State == StateFailed
	})

	stats := s.Stats()
	if stats.Total != 3 {
		t.Fatalf("Total = %d, want 3", stats.Total)
	}
	if sum := stats.Running + stats.Pending + stats.Paused + stats.Completed + stats.Failed; sum != stats.Total {
		t.Fatalf("state counts sum to %d, total %d", sum, stats.Total)
	}
	if stats.Pending != 1 || stats.Paused != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var runs atomic.Int32
	if _, err := s.Add(func(context.Context) error { runs.Add(1); return nil },
		TaskConfig{ID: "snap"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, 2*time.Second, "run recorded", func() bool { return runs.Load() == 1 })
	waitFor(t, 2*time.Second, "history visible", func() bool {
		return len(s.Snapshot(10).History) >= 1
	})

	snap := s.Snapshot(10)
	if snap.Interval != testInterval {
		t.Fatalf("Interval = %v, want %v", snap.Interval, testInterval)
	}
	if snap.History[0].TaskID != "snap" || snap.History[0].Attempt != 1 {
		t.Fatalf("unexpected history head: %+v", snap.History[0])
	}
}

func TestStatusUnknownID(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	if _, ok := s.Status("missing"); ok {
		t.Fatal("Status returned ok for unknown id")
	}
}
