package scheduler

import (
	"time"

	"bgtask/internal/eventbus"
)

// Event types published on the bus. Hosts subscribe to drive a user-facing
// surface (status notification, bridge to a UI layer) without polling.
const (
	EventStarted   = "task.started"
	EventCompleted = "task.completed"
	EventRetry     = "task.retry"
	EventFailed    = "task.failed"
	EventProgress  = "task.progress"
)

// TaskEvent is the payload carried by scheduler bus events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempt  int           `json:"attempt,omitempty"`
	Percent  int           `json:"percent,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

// progressReporter fans a task's progress out to its callback and the bus.
func (s *Service) progressReporter(id string, cb func(int)) func(int) {
	return func(percent int) {
		if cb != nil {
			s.invokeCallback(id, func() { cb(percent) })
		}
		s.publish(EventProgress, TaskEvent{ID: id, Percent: percent})
	}
}
