package model

import "time"

// EventType names a lifecycle notification.
type EventType string

const (
	EventCreated      EventType = "execution.created"
	EventStarted      EventType = "execution.started"
	EventCompleted    EventType = "execution.completed"
	EventFailed       EventType = "execution.failed"
	EventCancelled    EventType = "execution.cancelled"
	EventQualityAlert EventType = "quality.alert"
)

// Event is a fire-and-forget notification about an execution.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id"`
	JobID       string          `json:"job_id"`
	JobName     string          `json:"job_name"`
	Status      ExecutionStatus `json:"status,omitempty"`
	Message     string          `json:"message,omitempty"`
	Attributes  Fields          `json:"attributes,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewEvent builds an event for exec.
func NewEvent(t EventType, exec *JobExecution, msg string) Event {
	s := exec.Snapshot()
	return Event{
		Type:        t,
		ExecutionID: s.ID,
		JobID:       s.JobID,
		JobName:     s.JobName,
		Status:      s.Status,
		Message:     msg,
		Attributes:  Fields{},
		OccurredAt:  time.Now(),
	}
}

// EventForStatus maps a terminal status to its event type.
func EventForStatus(s ExecutionStatus) EventType {
	switch s {
	case StatusSuccess:
		return EventCompleted
	case StatusCancelled:
		return EventCancelled
	default:
		return EventFailed
	}
}
