package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
)

// Scheduler drives the processor from an in-process ticker. Runs happen on
// the scheduler goroutine one after another, so its own runs never overlap.
type Scheduler struct {
	processor *Processor
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a scheduler that runs processor every interval.
func NewScheduler(processor *Processor, c clock.Clock, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		clock:     c,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs one pass immediately and then one per interval until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.processor.RunOnce(ctx, s.clock.Now()); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}
