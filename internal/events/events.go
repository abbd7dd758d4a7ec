package events

import (
	"time"

	"github.com/boardflow/orchestrator/internal/domain"
)

// EventType identifies the kind of event being published.
// The set is closed; payload types are fixed per kind.
type EventType string

const (
	// Scheduler lifecycle events. Payload: JobPayload.
	EventJobQueued    EventType = "job:queued"
	EventJobStarted   EventType = "job:started"
	EventJobProgress  EventType = "job:progress"
	EventJobCompleted EventType = "job:completed"
	EventJobFailed    EventType = "job:failed"
	EventJobCancelled EventType = "job:cancelled"

	// Progress tracker events. Payload: StagePayload, except
	// EventProgressLog which carries LogPayload.
	EventProgressInitialized   EventType = "progress:initialized"
	EventProgressStageStarted  EventType = "progress:stage-started"
	EventProgressStageComplete EventType = "progress:stage-completed"
	EventProgressStageFailed   EventType = "progress:stage-failed"
	EventProgressStageSkipped  EventType = "progress:stage-skipped"
	EventProgressLog           EventType = "progress:log"
	EventProgressCompleted     EventType = "progress:completed"
	EventProgressFailed        EventType = "progress:failed"
)

// Event is one published occurrence. Payload holds one of the
// *Payload structs below depending on Type.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// JobPayload accompanies all job:* events
type JobPayload struct {
	JobID    string           `json:"jobId"`
	Command  string           `json:"command"`
	Priority domain.Priority  `json:"priority"`
	Status   domain.JobStatus `json:"status"`
	Line     string           `json:"line,omitempty"`   // job:progress only
	Stderr   bool             `json:"stderr,omitempty"` // job:progress only
	Error    string           `json:"error,omitempty"`  // job:failed only
}

// StagePayload accompanies progress:* stage transition events
type StagePayload struct {
	TicketID        string `json:"ticketId"`
	ProjectID       string `json:"projectId"`
	StageName       string `json:"stageName,omitempty"`
	PercentComplete int    `json:"percentComplete"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// LogPayload accompanies progress:log events
type LogPayload struct {
	TicketID string          `json:"ticketId"`
	Level    domain.LogLevel `json:"level"`
	Message  string          `json:"message"`
}
