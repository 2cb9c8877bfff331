package scheduler

import "context"

type progressCtxKey struct{}

func withProgress(ctx context.Context, fn func(int)) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressCtxKey{}, fn)
}

// ReportProgress reports percent complete (clamped to [0,100]) from inside a
// running task. The scheduler forwards it to the task's OnProgress callback
// and publishes a task.progress event. It is a no-op outside a scheduled run.
func ReportProgress(ctx context.Context, percent int) {
	fn, _ := ctx.Value(progressCtxKey{}).(func(int))
	if fn == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	fn(percent)
}
