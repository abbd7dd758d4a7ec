// Package checkpoint snapshots ticket progress to a durable store so
// execution can survive process restarts and be resumed or audited.
package checkpoint

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardflow/orchestrator/internal/domain"
)

// Config parameterizes the Manager. Zero fields take defaults.
type Config struct {
	AutoInterval     time.Duration // auto-checkpoint period, default 60s
	RetentionAge     time.Duration // age-based deletion window, default 7 days
	MaxAutoPerTicket int           // count-based cap on auto checkpoints, default 10
}

// DefaultConfig returns the standard checkpoint policy
func DefaultConfig() Config {
	return Config{
		AutoInterval:     60 * time.Second,
		RetentionAge:     7 * 24 * time.Hour,
		MaxAutoPerTicket: 10,
	}
}

// ProgressSupplier returns the current progress for a ticket, or nil
// when there is nothing to snapshot
type ProgressSupplier func() *domain.TicketProgress

// Manager creates, restores, and prunes checkpoints. Version counters
// live in memory but are seeded from the store, so numbering continues
// across restarts instead of colliding with prior versions.
type Manager struct {
	store  *Store
	cfg    Config
	logger *log.Logger

	versions map[string]int
	timers   map[string]chan struct{}
	now      func() time.Time
	mu       sync.Mutex
}

// NewManager creates a Manager over store
func NewManager(store *Store, cfg Config, logger *log.Logger) *Manager {
	def := DefaultConfig()
	if cfg.AutoInterval <= 0 {
		cfg.AutoInterval = def.AutoInterval
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = def.RetentionAge
	}
	if cfg.MaxAutoPerTicket <= 0 {
		cfg.MaxAutoPerTicket = def.MaxAutoPerTicket
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		versions: make(map[string]int),
		timers:   make(map[string]chan struct{}),
		now:      time.Now,
	}
}

// CreateCheckpoint snapshots progress and persists it, then runs a
// retention pass. context is free-form detail recorded with the
// snapshot (e.g. the completed stage name).
func (m *Manager) CreateCheckpoint(progress *domain.TicketProgress, cpType domain.CheckpointType, context string) (*domain.Checkpoint, error) {
	if progress == nil {
		return nil, fmt.Errorf("nothing to checkpoint")
	}

	version, err := m.nextVersion(progress.TicketID)
	if err != nil {
		return nil, fmt.Errorf("deriving checkpoint version: %w", err)
	}

	cp := &domain.Checkpoint{
		ID:        uuid.NewString(),
		TicketID:  progress.TicketID,
		Version:   version,
		Type:      cpType,
		CreatedAt: m.now(),
		Data: domain.CheckpointData{
			TicketID:         progress.TicketID,
			ProjectID:        progress.ProjectID,
			Stages:           append([]domain.Stage(nil), progress.Stages...),
			CurrentStageName: progress.CurrentStageName,
			PercentComplete:  progress.PercentComplete,
			Logs:             append([]domain.LogEntry(nil), progress.Logs...),
			StartedAt:        progress.StartedAt,
			LastUpdatedAt:    progress.LastUpdatedAt,
			Context:          context,
		},
	}

	if err := m.store.Create(cp); err != nil {
		m.rollbackVersion(progress.TicketID)
		return nil, fmt.Errorf("persisting checkpoint: %w", err)
	}

	// Retention is best-effort; a failed prune never fails the create
	if err := m.prune(progress.TicketID); err != nil {
		m.logger.Printf("[WARN] checkpoint retention pass failed ticket=%s err=%v", progress.TicketID, err)
	}

	return cp, nil
}

// CheckpointOnStageComplete records a stage-type checkpoint named for
// the finished stage
func (m *Manager) CheckpointOnStageComplete(progress *domain.TicketProgress, stageName string) (*domain.Checkpoint, error) {
	return m.CreateCheckpoint(progress, domain.CheckpointStage, stageName)
}

// GetLatestCheckpoint returns the newest checkpoint for a ticket
func (m *Manager) GetLatestCheckpoint(ticketID string) (*domain.Checkpoint, error) {
	return m.store.FindLatest(ticketID)
}

// GetCheckpoint returns one checkpoint by id
func (m *Manager) GetCheckpoint(id string) (*domain.Checkpoint, error) {
	return m.store.FindByID(id)
}

// ListCheckpoints returns a ticket's checkpoints, oldest first
func (m *Manager) ListCheckpoints(ticketID string) ([]*domain.Checkpoint, error) {
	return m.store.FindAll(ticketID)
}

// RestoreFromCheckpoint reconstructs a live progress object from a
// stored snapshot. The ETA is reset pending recomputation from fresh
// stage completions.
func (m *Manager) RestoreFromCheckpoint(cp *domain.Checkpoint) *domain.TicketProgress {
	return &domain.TicketProgress{
		TicketID:                  cp.Data.TicketID,
		ProjectID:                 cp.Data.ProjectID,
		Stages:                    append([]domain.Stage(nil), cp.Data.Stages...),
		CurrentStageName:          cp.Data.CurrentStageName,
		PercentComplete:           cp.Data.PercentComplete,
		EstimatedRemainingMinutes: nil,
		Logs:                      append([]domain.LogEntry(nil), cp.Data.Logs...),
		StartedAt:                 cp.Data.StartedAt,
		LastUpdatedAt:             cp.Data.LastUpdatedAt,
	}
}

// DeleteCheckpoint removes one checkpoint
func (m *Manager) DeleteCheckpoint(id string) error {
	return m.store.DeleteByID(id)
}

// DeleteAllCheckpoints removes every checkpoint for a ticket and
// forgets its version counter
func (m *Manager) DeleteAllCheckpoints(ticketID string) (int, error) {
	m.mu.Lock()
	delete(m.versions, ticketID)
	m.mu.Unlock()
	return m.store.DeleteAll(ticketID)
}

// StartAutoCheckpoint snapshots the supplier's progress on a fixed
// interval until StopAutoCheckpoint. A failed write is logged and the
// timer keeps running; the next tick is recoverable from a prior
// checkpoint.
func (m *Manager) StartAutoCheckpoint(ticketID string, supplier ProgressSupplier) {
	m.mu.Lock()
	if stop, ok := m.timers[ticketID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	m.timers[ticketID] = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.cfg.AutoInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				progress := supplier()
				if progress == nil {
					continue
				}
				if _, err := m.CreateCheckpoint(progress, domain.CheckpointAuto, ""); err != nil {
					m.logger.Printf("[WARN] auto-checkpoint failed ticket=%s err=%v", ticketID, err)
				}
			}
		}
	}()
}

// StopAutoCheckpoint stops the ticket's auto-checkpoint timer
func (m *Manager) StopAutoCheckpoint(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.timers[ticketID]; ok {
		close(stop)
		delete(m.timers, ticketID)
	}
}

// Cleanup stops every auto-checkpoint timer. Must be called when
// tracking ends so timers do not leak.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ticketID, stop := range m.timers {
		close(stop)
		delete(m.timers, ticketID)
	}
}

// prune applies retention after a checkpoint write: age-based deletion
// for all types, then count-based deletion of auto checkpoints beyond
// the cap, oldest first. Manual and stage checkpoints are exempt from
// the count cap.
func (m *Manager) prune(ticketID string) error {
	if _, err := m.store.DeleteOlderThan(m.now().Add(-m.cfg.RetentionAge)); err != nil {
		return err
	}

	autos, err := m.store.FindByType(ticketID, domain.CheckpointAuto)
	if err != nil {
		return err
	}
	for len(autos) > m.cfg.MaxAutoPerTicket {
		if err := m.store.DeleteByID(autos[0].ID); err != nil {
			return err
		}
		autos = autos[1:]
	}
	return nil
}

// nextVersion continues per-ticket numbering, seeding from the store
// on first use after process start
func (m *Manager) nextVersion(ticketID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.versions[ticketID]
	if !ok {
		stored, err := m.store.MaxVersion(ticketID)
		if err != nil {
			return 0, err
		}
		current = stored
	}
	next := current + 1
	m.versions[ticketID] = next
	return next, nil
}

// rollbackVersion undoes a reserved version after a failed write
func (m *Manager) rollbackVersion(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.versions[ticketID]; ok && v > 0 {
		m.versions[ticketID] = v - 1
	}
}
