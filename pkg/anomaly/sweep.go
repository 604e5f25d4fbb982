package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep at the top of every hour.
const DefaultSweepSchedule = "@hourly"

// Sweeper runs Detector.Sweep on a cron schedule.
type Sweeper struct {
	detector *Detector
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. An empty schedule means DefaultSweepSchedule.
func NewSweeper(d *Detector, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		detector: d,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "anomaly.sweeper"),
	}
}

// Start schedules the sweep and stops it when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("anomaly sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Sweeper) run() {
	pruned, expired := s.detector.Sweep(s.detector.config.Clock())
	s.logger.Debug("anomaly sweep completed",
		"pruned_events", pruned,
		"expired_sources", expired,
	)
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("anomaly sweeper stopped")
}
