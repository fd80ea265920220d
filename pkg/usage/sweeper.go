package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes expired keys from a Sweepable store on a cron schedule.
type Sweeper struct {
	store    Sweepable
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewSweeper creates a sweeper for store using a standard five-field cron
// expression such as "*/5 * * * *".
func NewSweeper(store Sweepable, schedule string) *Sweeper {
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "usage.sweeper"),
	}
}

// Start schedules sweeps until ctx is cancelled or Stop is called.
// An empty schedule disables sweeping.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping sweeper")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("usage sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce performs a single sweep and returns the number of removed keys.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	deleted, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Error("usage sweep failed", "error", err)
		return 0
	}

	if deleted > 0 {
		s.logger.Info("usage sweep completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("usage sweep completed, nothing expired")
	}
	return deleted
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("usage sweeper stopped")
	}
}

// IsRunning reports whether the sweeper is scheduled.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
