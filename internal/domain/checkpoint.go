package domain

import "time"

// CheckpointType records why a checkpoint was taken
type CheckpointType string

const (
	CheckpointAuto   CheckpointType = "auto"
	CheckpointManual CheckpointType = "manual"
	CheckpointStage  CheckpointType = "stage"
)

// Checkpoint is a durable, versioned snapshot of a ticket's progress.
// Version is monotonic per ticket, 1-based.
type Checkpoint struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticketId"`
	Version   int            `json:"version"`
	Type      CheckpointType `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      CheckpointData `json:"data"`
}

// CheckpointData is the serializable projection of a TicketProgress.
// Timestamps round-trip as RFC 3339 via the standard time.Time JSON codec.
type CheckpointData struct {
	TicketID         string     `json:"ticketId"`
	ProjectID        string     `json:"projectId"`
	Stages           []Stage    `json:"stages"`
	CurrentStageName string     `json:"currentStageName"`
	PercentComplete  int        `json:"percentComplete"`
	Logs             []LogEntry `json:"logs"`
	StartedAt        time.Time  `json:"startedAt"`
	LastUpdatedAt    time.Time  `json:"lastUpdatedAt"`
	Context          string     `json:"context,omitempty"`
}
