package domain

import "time"

// StageStatus represents the lifecycle state of a single stage
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in-progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Stage is a named, weighted phase of a ticket's execution
type Stage struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Weight      int         `json:"weight"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	DurationMs  int64       `json:"durationMs,omitempty"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// LogLevel classifies a progress log entry
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line in a ticket's bounded progress log
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TicketProgress tracks the staged progress of one ticket.
// The stage set is fixed at initialization; percentComplete is always
// recomputed from stage statuses, never stored authoritatively elsewhere.
type TicketProgress struct {
	TicketID                  string     `json:"ticketId"`
	ProjectID                 string     `json:"projectId"`
	Stages                    []Stage    `json:"stages"`
	CurrentStageName          string     `json:"currentStageName"`
	PercentComplete           int        `json:"percentComplete"`
	EstimatedRemainingMinutes *int       `json:"estimatedRemainingMinutes,omitempty"`
	Logs                      []LogEntry `json:"logs"`
	StartedAt                 time.Time  `json:"startedAt"`
	LastUpdatedAt             time.Time  `json:"lastUpdatedAt"`
}

// FindStage returns a pointer to the named stage, or nil
func (p *TicketProgress) FindStage(name string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// TotalWeight returns the sum of all stage weights
func (p *TicketProgress) TotalWeight() int {
	total := 0
	for _, s := range p.Stages {
		total += s.Weight
	}
	return total
}
