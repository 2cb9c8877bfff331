package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFailTwiceThenSucceed(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var (
		attempts  atomic.Int32
		successes atomic.Int32
		failures  atomic.Int32
	)
	boom := errors.New("boom")

	id, err := s.Add(func(context.Context) error {
		if attempts.Add(1) <= 2 {
			return boom
		}
		return nil
	}, TaskConfig{
		MaxRetries: 2,
		OnSuccess:  func() { successes.Add(1) },
		OnError: func(err error) {
			if !errors.Is(err, boom) {
				t.Errorf("OnError got %v, want boom", err)
			}
			failures.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, 3*time.Second, "third attempt success", func() bool { return successes.Load() == 1 })

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if got := failures.Load(); got != 2 {
		t.Fatalf("OnError calls = %d, want 2", got)
	}
	// One-shot success: record is gone.
	waitFor(t, 2*time.Second, "removal after success", func() bool {
		_, ok := s.Status(id)
		return !ok
	})
}

func TestRetryBound(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var attempts atomic.Int32
	id, err := s.Add(func(context.Context) error {
		attempts.Add(1)
		return errors.New("always fails")
	}, TaskConfig{MaxRetries: 1})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, 3*time.Second, "terminal failure", func() bool {
		st, ok := s.Status(id)
		return ok && st.State == StateFailed
	})

	// Exactly N+1 attempts, never more; the failed record stays queryable.
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	time.Sleep(10 * testInterval)
	if got := attempts.Load(); got != 2 {
		t.Fatalf("failed task re-executed: attempts = %d", got)
	}
	st, ok := s.Status(id)
	if !ok {
		t.Fatal("failed task not queryable")
	}
	if st.RunCount != 2 || st.RetryAttempts != 2 {
		t.Fatalf("RunCount = %d, RetryAttempts = %d, want 2/2", st.RunCount, st.RetryAttempts)
	}
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	errCh := make(chan error, 1)
	id, err := s.Add(func(context.Context) error {
		// Ignores the context on purpose: the scheduler must move on anyway.
		time.Sleep(500 * time.Millisecond)
		return nil
	}, TaskConfig{
		Timeout: 25 * time.Millisecond,
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case err := <-errCh:
		if !IsTimeout(err) {
			t.Fatalf("OnError got %v, want *TimeoutError", err)
		}
		var te *TimeoutError
		if !errors.As(err, &te) || te.TaskID != id {
			t.Fatalf("TimeoutError task id = %q, want %q", te.TaskID, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}

	waitFor(t, 2*time.Second, "failed state", func() bool {
		st, ok := s.Status(id)
		return ok && st.State == StateFailed
	})
}

func TestNoSelfOverlap(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		runs     atomic.Int32
	)
	id, err := s.Add(func(context.Context) error {
		n := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if n <= prev || maxSeen.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(8 * testInterval) // spans several ticks while "running"
		inFlight.Add(-1)
		runs.Add(1)
		return nil
	}, TaskConfig{Repeat: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	waitFor(t, 5*time.Second, "several runs", func() bool { return runs.Load() >= 3 })
	s.Remove(id)

	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("max concurrent executions of one task = %d, want 1", got)
	}
}

func TestDifferentTasksRunConcurrently(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var (
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	block := make(chan struct{})
	work := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if n <= prev || maxSeen.CompareAndSwap(prev, n) {
				break
			}
		}
		<-block
		inFlight.Add(-1)
		return nil
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Add(work, TaskConfig{}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	waitFor(t, 3*time.Second, "all three in flight", func() bool { return inFlight.Load() == 3 })
	close(block)

	if got := maxSeen.Load(); got != 3 {
		t.Fatalf("max concurrency = %d, want 3", got)
	}
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	errCh := make(chan error, 1)
	_, err := s.Add(func(context.Context) error {
		panic("kaboom")
	}, TaskConfig{OnError: func(err error) { errCh <- err }})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil || IsTimeout(err) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for panic to surface as OnError")
	}

	// The loop survives: another task still executes.
	var ran atomic.Bool
	if _, err := s.Add(func(context.Context) error {
		ran.Store(true)
		return nil
	}, TaskConfig{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, 2*time.Second, "subsequent task run", func() bool { return ran.Load() })
}

func TestCallbackPanicIsContained(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var runs atomic.Int32
	_, err := s.Add(func(context.Context) error {
		runs.Add(1)
		return nil
	}, TaskConfig{
		Repeat:    true,
		OnSuccess: func() { panic("host callback bug") },
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, 3*time.Second, "runs despite panicking callback", func() bool { return runs.Load() >= 2 })
}

func TestReportProgress(t *testing.T) {
	t.Parallel()
	s := newTestService()
	defer s.Shutdown(context.Background())

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	_, err := s.Add(func(ctx context.Context) error {
		ReportProgress(ctx, -5)
		ReportProgress(ctx, 50)
		ReportProgress(ctx, 250)
		close(done)
		return nil
	}, TaskConfig{OnProgress: func(p int) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 50, 100}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress = %v, want %v", got, want)
		}
	}
}

func TestReportProgressOutsideTaskIsNoop(t *testing.T) {
	t.Parallel()
	ReportProgress(context.Background(), 50) // must not panic
}
