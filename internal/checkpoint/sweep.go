package checkpoint

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepCron runs the retention sweep hourly
const DefaultSweepCron = "0 * * * *"

// Sweeper prunes the whole store on a cron schedule, independent of
// checkpoint writes. It covers tickets that stopped checkpointing but
// still hold rows past the retention window.
type Sweeper struct {
	manager  *Manager
	schedule cron.Schedule
	logger   *log.Logger

	lastRun  time.Time
	running  bool
	stopChan chan struct{}
	mu       sync.Mutex
}

// NewSweeper creates a Sweeper driven by the given cron expression
// (standard five-field form)
func NewSweeper(manager *Manager, cronExpr string, logger *log.Logger) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", cronExpr, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		manager:  manager,
		schedule: schedule,
		logger:   logger,
		stopChan: make(chan struct{}),
	}, nil
}

// NextRun returns the next scheduled sweep time
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastRun
	if last.IsZero() {
		last = time.Now()
	}
	return s.schedule.Next(last)
}

// ShouldRun reports whether a sweep is due
func (s *Sweeper) ShouldRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	last := s.lastRun
	if last.IsZero() {
		last = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(s.schedule.Next(last))
}

// Start runs the sweep loop until Stop. Blocks; run in a goroutine.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if !s.ShouldRun() {
				continue
			}
			s.markRunning()
			if err := s.SweepOnce(); err != nil {
				s.logger.Printf("[WARN] checkpoint sweep failed: %v", err)
			}
			s.markComplete()
		}
	}
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// SweepOnce applies retention across every ticket in the store: one
// age-based pass, then the per-ticket auto-checkpoint cap.
func (s *Sweeper) SweepOnce() error {
	deleted, err := s.manager.store.DeleteOlderThan(s.manager.now().Add(-s.manager.cfg.RetentionAge))
	if err != nil {
		return fmt.Errorf("age-based sweep: %w", err)
	}

	ticketIDs, err := s.manager.store.TicketIDs()
	if err != nil {
		return fmt.Errorf("listing tickets: %w", err)
	}
	for _, ticketID := range ticketIDs {
		if err := s.manager.prune(ticketID); err != nil {
			return fmt.Errorf("pruning ticket %s: %w", ticketID, err)
		}
	}

	if deleted > 0 {
		s.logger.Printf("[INFO] checkpoint sweep removed %d expired checkpoints across %d tickets", deleted, len(ticketIDs))
	}
	return nil
}

func (s *Sweeper) markRunning() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

func (s *Sweeper) markComplete() {
	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.mu.Unlock()
}
