// Package scheduler provides an in-process background-task scheduler for
// host applications that keep work running while the app itself is idle
// (e.g. a mobile foreground service).
//
// # Overview
//
// Callers register units of work (tasks) with a per-task delay, retry policy
// and timeout. A single polling loop wakes at a fixed sampling interval
// (default 500ms), selects the tasks that are due, and dispatches each on its
// own goroutine without waiting for completion. The loop starts itself when
// the first task is registered and stops itself when the task table empties.
//
// # Task lifecycle
//
// A task is pending until it becomes due, running while an execution is in
// flight, and then either pending again (repeating task, or a retryable
// failure), removed (one-shot success), or failed (retries exhausted).
// A paused task is never selected as due. Completed one-shot tasks are
// removed from the table immediately, so "completed" is never observable
// through Status or Stats.
//
// # Failure handling
//
// A run that returns an error, panics, or outlives its timeout counts as one
// failed attempt. The task is retried after its configured delay until
// MaxRetries consecutive failures have accumulated, at which point it parks
// in the failed state until explicitly removed. OnError fires on every failed
// attempt, including attempts that will be retried. A timed-out run is
// reported with *TimeoutError; its underlying work may keep running in the
// background, the scheduler only stops waiting for it.
//
// # Concurrency
//
// Different tasks run concurrently without a cap. A single task never
// overlaps with itself: the due-check requires the pending state, and a task
// only returns to pending once its previous execution resolved. Priority
// orders dispatch within one tick (high before normal before low) and is not
// a preemption or concurrency-limiting mechanism.
package scheduler
