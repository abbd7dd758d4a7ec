// Package progress tracks weighted multi-stage progress per ticket,
// independent of job scheduling. Stage transitions are driven by
// whatever orchestrates the ticket's lifecycle.
package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/events"
)

// DefaultLogCap bounds the per-ticket log ring buffer
const DefaultLogCap = 100

// mutexMap hands out one mutex per key, serializing stage transitions
// per ticket without coupling unrelated tickets.
type mutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func newMutexMap() *mutexMap {
	return &mutexMap{mutexes: make(map[string]*sync.Mutex)}
}

func (m *mutexMap) get(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mu, ok := m.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.mutexes[key] = mu
	return mu
}

func (m *mutexMap) drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mutexes, key)
}

// Tracker maintains TicketProgress objects keyed by ticket id.
// Mutations for the same ticket are serialized by a per-ticket mutex;
// callers need no external discipline.
type Tracker struct {
	bus    *events.Bus
	logCap int

	tickets map[string]*domain.TicketProgress
	locks   *mutexMap
	now     func() time.Time
	mu      sync.RWMutex
}

// NewTracker creates a Tracker publishing to bus (nil disables events)
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		bus:     bus,
		logCap:  DefaultLogCap,
		tickets: make(map[string]*domain.TicketProgress),
		locks:   newMutexMap(),
		now:     time.Now,
	}
}

// SetLogCap adjusts the per-ticket log bound. Existing logs shrink on
// their next append.
func (t *Tracker) SetLogCap(n int) {
	if n > 0 {
		t.logCap = n
	}
}

// Initialize starts tracking a ticket with the given stage set. A nil
// stages slice selects the default seven-stage library. Re-initializing
// a tracked ticket is an error.
func (t *Tracker) Initialize(ticketID, projectID string, stages []StageDef) (*domain.TicketProgress, error) {
	if ticketID == "" {
		return nil, fmt.Errorf("ticket id is required")
	}
	if stages == nil {
		stages = DefaultStages()
	}

	now := t.now()
	progress := &domain.TicketProgress{
		TicketID:      ticketID,
		ProjectID:     projectID,
		Stages:        make([]domain.Stage, len(stages)),
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	for i, def := range stages {
		progress.Stages[i] = domain.Stage{
			ID:     fmt.Sprintf("%s-stage-%d", ticketID, i+1),
			Name:   def.Name,
			Weight: def.Weight,
			Status: domain.StagePending,
		}
	}

	t.mu.Lock()
	if _, exists := t.tickets[ticketID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("ticket %s already tracked", ticketID)
	}
	t.tickets[ticketID] = progress
	t.mu.Unlock()

	t.publishStage(events.EventProgressInitialized, progress, "", "", "", "")
	return t.snapshot(progress), nil
}

// Adopt installs an externally reconstructed progress object, e.g. one
// restored from a checkpoint, replacing any tracked state for the
// ticket.
func (t *Tracker) Adopt(progress *domain.TicketProgress) {
	t.mu.Lock()
	t.tickets[progress.TicketID] = progress
	t.mu.Unlock()
}

// Remove stops tracking a ticket
func (t *Tracker) Remove(ticketID string) {
	t.mu.Lock()
	delete(t.tickets, ticketID)
	t.mu.Unlock()
	t.locks.drop(ticketID)
}

// Get returns a snapshot of the ticket's progress, or nil
func (t *Tracker) Get(ticketID string) *domain.TicketProgress {
	lock := t.locks.get(ticketID)
	lock.Lock()
	defer lock.Unlock()

	progress := t.lookup(ticketID)
	if progress == nil {
		return nil
	}
	return t.snapshot(progress)
}

// StartStage marks the named stage in-progress and makes it current
func (t *Tracker) StartStage(ticketID, name string) error {
	return t.transition(ticketID, name, func(progress *domain.TicketProgress, stage *domain.Stage) events.EventType {
		now := t.now()
		stage.Status = domain.StageInProgress
		stage.StartedAt = &now
		progress.CurrentStageName = name
		return events.EventProgressStageStarted
	}, "", "", "")
}

// CompleteStage marks the named stage completed, recording duration
// and optional output
func (t *Tracker) CompleteStage(ticketID, name, output string) error {
	return t.transition(ticketID, name, func(progress *domain.TicketProgress, stage *domain.Stage) events.EventType {
		now := t.now()
		stage.Status = domain.StageCompleted
		stage.CompletedAt = &now
		if stage.StartedAt != nil {
			stage.DurationMs = now.Sub(*stage.StartedAt).Milliseconds()
		}
		stage.Output = output
		return events.EventProgressStageComplete
	}, output, "", "")
}

// FailStage marks the named stage failed. The ticket's tracking is not
// torn down; the emitted event is the signal the orchestrating caller
// acts on.
func (t *Tracker) FailStage(ticketID, name string, stageErr error) error {
	errMsg := ""
	if stageErr != nil {
		errMsg = stageErr.Error()
	}
	return t.transition(ticketID, name, func(progress *domain.TicketProgress, stage *domain.Stage) events.EventType {
		now := t.now()
		stage.Status = domain.StageFailed
		stage.CompletedAt = &now
		if stage.StartedAt != nil {
			stage.DurationMs = now.Sub(*stage.StartedAt).Milliseconds()
		}
		stage.Error = errMsg
		return events.EventProgressStageFailed
	}, "", errMsg, "")
}

// SkipStage marks the named stage skipped; skipped weight counts as
// done
func (t *Tracker) SkipStage(ticketID, name, reason string) error {
	return t.transition(ticketID, name, func(progress *domain.TicketProgress, stage *domain.Stage) events.EventType {
		now := t.now()
		stage.Status = domain.StageSkipped
		stage.CompletedAt = &now
		stage.Output = reason
		return events.EventProgressStageSkipped
	}, "", "", reason)
}

// AddLog appends to the ticket's bounded log, dropping the oldest
// entry once the cap is reached
func (t *Tracker) AddLog(ticketID, message string, level domain.LogLevel, metadata map[string]string) error {
	lock := t.locks.get(ticketID)
	lock.Lock()

	progress := t.lookup(ticketID)
	if progress == nil {
		lock.Unlock()
		return fmt.Errorf("ticket %s not tracked", ticketID)
	}

	if level == "" {
		level = domain.LogInfo
	}
	progress.Logs = append(progress.Logs, domain.LogEntry{
		Timestamp: t.now(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	})
	if len(progress.Logs) > t.logCap {
		progress.Logs = progress.Logs[len(progress.Logs)-t.logCap:]
	}
	progress.LastUpdatedAt = t.now()
	lock.Unlock()

	if t.bus != nil {
		t.bus.Publish(events.EventProgressLog, events.LogPayload{
			TicketID: ticketID,
			Level:    level,
			Message:  message,
		})
	}
	return nil
}

// transition applies mutate to the named stage under the ticket lock,
// recomputes derived fields, and publishes the resulting event.
func (t *Tracker) transition(ticketID, name string, mutate func(*domain.TicketProgress, *domain.Stage) events.EventType, output, errMsg, reason string) error {
	lock := t.locks.get(ticketID)
	lock.Lock()

	progress := t.lookup(ticketID)
	if progress == nil {
		lock.Unlock()
		return fmt.Errorf("ticket %s not tracked", ticketID)
	}
	stage := progress.FindStage(name)
	if stage == nil {
		lock.Unlock()
		return fmt.Errorf("ticket %s has no stage %q", ticketID, name)
	}

	eventType := mutate(progress, stage)
	progress.PercentComplete = computePercent(progress)
	progress.EstimatedRemainingMinutes = computeETA(progress)
	progress.LastUpdatedAt = t.now()

	allDone := eventType == events.EventProgressStageComplete || eventType == events.EventProgressStageSkipped
	if allDone {
		for _, s := range progress.Stages {
			if s.Status != domain.StageCompleted && s.Status != domain.StageSkipped {
				allDone = false
				break
			}
		}
	}
	snapshot := t.snapshot(progress)
	lock.Unlock()

	t.publishStage(eventType, snapshot, name, output, errMsg, reason)
	if eventType == events.EventProgressStageFailed {
		t.publishStage(events.EventProgressFailed, snapshot, name, "", errMsg, "")
	}
	if allDone {
		t.publishStage(events.EventProgressCompleted, snapshot, "", "", "", "")
	}
	return nil
}

// lookup must be called with the ticket lock held
func (t *Tracker) lookup(ticketID string) *domain.TicketProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tickets[ticketID]
}

func (t *Tracker) snapshot(progress *domain.TicketProgress) *domain.TicketProgress {
	copied := *progress
	copied.Stages = append([]domain.Stage(nil), progress.Stages...)
	copied.Logs = append([]domain.LogEntry(nil), progress.Logs...)
	if progress.EstimatedRemainingMinutes != nil {
		eta := *progress.EstimatedRemainingMinutes
		copied.EstimatedRemainingMinutes = &eta
	}
	return &copied
}

func (t *Tracker) publishStage(eventType events.EventType, progress *domain.TicketProgress, stageName, output, errMsg, reason string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventType, events.StagePayload{
		TicketID:        progress.TicketID,
		ProjectID:       progress.ProjectID,
		StageName:       stageName,
		PercentComplete: progress.PercentComplete,
		Output:          output,
		Error:           errMsg,
		Reason:          reason,
	})
}

// computePercent gives full credit to completed and skipped stages and
// half credit to in-progress ones:
// round(100 × (Σw(done) + 0.5·Σw(in-progress)) / Σw(all))
func computePercent(progress *domain.TicketProgress) int {
	total := progress.TotalWeight()
	if total == 0 {
		return 0
	}

	credit := 0.0
	for _, s := range progress.Stages {
		switch s.Status {
		case domain.StageCompleted, domain.StageSkipped:
			credit += float64(s.Weight)
		case domain.StageInProgress:
			credit += 0.5 * float64(s.Weight)
		}
	}
	return int(math.Round(100 * credit / float64(total)))
}

// computeETA extrapolates from completed stages with recorded
// durations: durationPerWeightUnit × remaining weight, in whole
// minutes. Returns nil until at least one stage has completed.
func computeETA(progress *domain.TicketProgress) *int {
	var doneMs int64
	doneWeight := 0
	for _, s := range progress.Stages {
		if s.Status == domain.StageCompleted && s.DurationMs > 0 {
			doneMs += s.DurationMs
			doneWeight += s.Weight
		}
	}
	if doneWeight == 0 {
		return nil
	}

	remaining := 0.0
	for _, s := range progress.Stages {
		switch s.Status {
		case domain.StagePending:
			remaining += float64(s.Weight)
		case domain.StageInProgress:
			remaining += 0.5 * float64(s.Weight)
		}
	}

	perWeightMs := float64(doneMs) / float64(doneWeight)
	minutes := int(math.Round(perWeightMs * remaining / 60000))
	return &minutes
}
