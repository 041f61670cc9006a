package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/queue"
)

// Observer is told about every attempt and every completed run. The
// Prometheus collector and the websocket hub both implement it.
type Observer interface {
	ReminderAttempted(r domain.Reminder, outcome domain.Outcome, status domain.Status, elapsed time.Duration, detail string)
	RunCompleted(summary domain.RunSummary)
}

// Processor performs processing passes over the reminder queue.
type Processor struct {
	queue       *queue.Queue
	deliverer   *Deliverer
	concurrency int
	observers   []Observer
	logger      *slog.Logger
}

// NewProcessor creates a processor. concurrency below 1 means sequential.
func NewProcessor(q *queue.Queue, deliverer *Deliverer, concurrency int, logger *slog.Logger, observers ...Observer) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		queue:       q,
		deliverer:   deliverer,
		concurrency: concurrency,
		observers:   observers,
		logger:      logger,
	}
}

type tally struct {
	mu      sync.Mutex
	success int
	failure int
}

func (t *tally) add(outcome domain.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if outcome == domain.OutcomeSent {
		t.success++
	} else {
		t.failure++
	}
}

// RunOnce selects every reminder eligible at now and makes one delivery
// attempt for each. Only a failed selection is returned as an error; item
// failures are counted in the summary. Once selection succeeds the whole
// batch is processed even if ctx is cancelled.
func (p *Processor) RunOnce(ctx context.Context, now time.Time) (domain.RunSummary, error) {
	started := time.Now()
	ctx = context.WithoutCancel(ctx)

	selected, err := p.queue.SelectEligible(ctx, now)
	if err != nil {
		p.logger.Error("failed to select eligible reminders", "error", err)
		for _, o := range p.observers {
			if f, ok := o.(interface{ RunFailed() }); ok {
				f.RunFailed()
			}
		}
		return domain.RunSummary{}, err
	}

	summary := domain.RunSummary{TotalSelected: len(selected), StartedAt: now}
	if len(selected) == 0 {
		p.logger.Debug("no reminders due", "now", now)
		return summary, nil
	}

	p.logger.Info("processing reminders", "count", len(selected), "concurrency", p.concurrency)

	var t tally
	pool := NewPool(p.concurrency, func(ctx context.Context, r domain.Reminder) {
		t.add(p.processOne(ctx, r))
	}, p.logger)

	pool.Start(ctx)
	for _, r := range selected {
		pool.Submit(r)
	}
	pool.Stop()

	summary.SuccessCount = t.success
	summary.FailureCount = t.failure
	summary.Duration = time.Since(started)

	p.logger.Info("processing run completed",
		"processed", summary.TotalSelected,
		"successful", summary.SuccessCount,
		"failed", summary.FailureCount,
		"duration_ms", summary.Duration.Milliseconds(),
	)

	for _, o := range p.observers {
		o.RunCompleted(summary)
	}
	return summary, nil
}

// processOne attempts r once and records the result. The returned outcome
// is the delivery outcome, whatever happened to the bookkeeping.
func (p *Processor) processOne(ctx context.Context, r domain.Reminder) domain.Outcome {
	start := time.Now()
	sendErr := p.deliverer.Deliver(ctx, r)
	elapsed := time.Since(start)

	outcome := domain.OutcomeSent
	var detail string
	if sendErr != nil {
		outcome = domain.OutcomeFailed
		detail = sendErr.Error()
	}

	status, err := p.queue.RecordOutcome(ctx, r, outcome, detail)
	switch {
	case errors.Is(err, domain.ErrStaleReminder):
		p.logger.Warn("reminder changed during run, outcome discarded",
			"reminder_id", r.ID,
			"block_id", r.BlockID,
			"outcome", outcome,
		)
		p.notify(r, outcome, "", elapsed, detail)
		return outcome

	case err != nil:
		p.logger.Error("failed to record reminder outcome",
			"error", err,
			"reminder_id", r.ID,
			"outcome", outcome,
		)
	}

	entry := domain.DeliveryLogEntry{
		ReminderID:       r.ID,
		UserID:           r.UserID,
		RecipientAddress: r.RecipientAddress,
		SubjectLine:      r.SubjectLine(),
		Outcome:          outcome,
	}
	if sendErr != nil {
		entry.ErrorDetail = &detail
	}
	p.queue.AppendLog(ctx, entry)

	if sendErr != nil {
		p.logger.Warn("reminder delivery failed",
			"reminder_id", r.ID,
			"block_id", r.BlockID,
			"attempt", r.AttemptCount+1,
			"status", status,
			"error", detail,
			"response_time_ms", elapsed.Milliseconds(),
		)
	} else {
		p.logger.Info("reminder delivered",
			"reminder_id", r.ID,
			"block_id", r.BlockID,
			"attempt", r.AttemptCount+1,
			"response_time_ms", elapsed.Milliseconds(),
		)
	}

	p.notify(r, outcome, status, elapsed, detail)
	return outcome
}

func (p *Processor) notify(r domain.Reminder, outcome domain.Outcome, status domain.Status, elapsed time.Duration, detail string) {
	for _, o := range p.observers {
		o.ReminderAttempted(r, outcome, status, elapsed, detail)
	}
}
