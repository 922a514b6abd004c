package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs maintenance every five minutes.
const DefaultSchedule = "@every 5m"

// Scheduler runs ClearSpaceIfNeeded and LogStorageMetrics on a cron schedule.
type Scheduler struct {
	guard    *Guard
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a maintenance scheduler. An empty schedule means
// DefaultSchedule.
func NewScheduler(guard *Guard, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		guard:    guard,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "storage.scheduler"),
	}
}

// Start schedules the maintenance job. The scheduler stops when ctx is
// cancelled or Stop is called.
//
// Accepted schedules are standard five-field cron expressions and
// descriptors such as "@every 10m" or "@hourly".
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule storage maintenance: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("storage maintenance scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce performs one maintenance cycle.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tier, err := s.guard.ClearSpaceIfNeeded(ctx)
	if err != nil {
		s.logger.Error("scheduled storage cleanup failed", "error", err)
	} else if tier != TierNone {
		s.logger.Info("scheduled storage cleanup ran", "tier", tier.String())
	}

	if _, err := s.guard.LogStorageMetrics(ctx); err != nil {
		s.logger.Error("failed to log storage metrics", "error", err)
	}
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("storage maintenance scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled run, or nil if not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
