package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNilRun       = errors.New("scheduler: task run function is nil")
	ErrShuttingDown = errors.New("scheduler: shutting down")
)

// TimeoutError reports that an attempt did not resolve within its limit.
// It is passed to OnError so hosts can distinguish timeouts from task errors.
type TimeoutError struct {
	TaskID string
	Limit  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Limit)
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
