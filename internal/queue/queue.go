package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/domain"
)

const (
	DefaultStatusLimit = 10
	MaxStatusLimit     = 100
)

// Store is the persistence the queue needs. PostgresStore, MongoStore and
// MemoryStore all satisfy it.
type Store interface {
	InsertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error)
	GetReminder(ctx context.Context, id string) (*domain.Reminder, error)
	DeleteRemindersByBlock(ctx context.Context, blockID string) (int64, error)
	FindEligibleReminders(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Reminder, error)
	ApplyTransition(ctx context.Context, t domain.Transition) (bool, error)
	CountRemindersByStatus(ctx context.Context, userID string) (domain.StatusCounts, error)
	ListExhaustedReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error)
	InsertDeliveryLog(ctx context.Context, e *domain.DeliveryLogEntry) error
	ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error)
	GetDeliveryMetrics(ctx context.Context) (*domain.DeliveryMetrics, error)
	Ping(ctx context.Context) error
}

// Queue owns the reminder lifecycle: enqueue, selection, outcome recording
// and the delivery audit log.
type Queue struct {
	store      Store
	clock      clock.Clock
	logger     *slog.Logger
	batchLimit int
}

type Option func(*Queue)

// WithBatchLimit caps how many reminders one selection returns. 0 means no cap.
func WithBatchLimit(n int) Option {
	return func(q *Queue) {
		q.batchLimit = n
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// New creates a queue over store.
func New(store Store, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		clock:  clock.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue queues a reminder for a block. A second enqueue for a block that
// already has a reminder returns the existing record; created reports which
// case happened.
func (q *Queue) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.Reminder, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	now := q.clock.Now()
	r := domain.Reminder{
		BlockID:          req.BlockID,
		UserID:           req.UserID,
		RecipientAddress: req.RecipientAddress,
		RecipientName:    req.RecipientName,
		Title:            req.Title,
		BlockStartTime:   req.StartTime.UTC(),
		BlockEndTime:     req.EndTime.UTC(),
		DueAt:            domain.DueAtFor(req.StartTime.UTC()),
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		r.Description = &desc
	}

	saved, created, err := q.store.InsertReminder(ctx, r)
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing reminder: %w", err)
	}

	if created {
		q.logger.Info("reminder enqueued",
			"reminder_id", saved.ID,
			"block_id", saved.BlockID,
			"due_at", saved.DueAt,
		)
	} else {
		q.logger.Debug("reminder already queued for block",
			"reminder_id", saved.ID,
			"block_id", saved.BlockID,
		)
	}

	return saved, created, nil
}

// Cancel removes every reminder for the block regardless of status. Cancelling
// a block without reminders is not an error.
func (q *Queue) Cancel(ctx context.Context, blockID string) (int64, error) {
	if strings.TrimSpace(blockID) == "" {
		return 0, fmt.Errorf("%w: missing block_id", domain.ErrInvalidInput)
	}

	n, err := q.store.DeleteRemindersByBlock(ctx, blockID)
	if err != nil {
		return 0, fmt.Errorf("cancelling reminders: %w", err)
	}

	if n > 0 {
		q.logger.Info("reminders cancelled", "block_id", blockID, "count", n)
	}
	return n, nil
}

// SelectEligible returns the reminders a processing pass at now should
// attempt, oldest due first.
func (q *Queue) SelectEligible(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	reminders, err := q.store.FindEligibleReminders(ctx, now, domain.MaxAttempts, q.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("selecting eligible reminders: %w", err)
	}
	return reminders, nil
}

// RecordOutcome applies the result of one delivery attempt to r, which must
// be the record as it was selected. It returns the reminder's new status, or
// ErrStaleReminder when the stored record has moved on since selection.
func (q *Queue) RecordOutcome(ctx context.Context, r domain.Reminder, outcome domain.Outcome, detail string) (domain.Status, error) {
	now := q.clock.Now()
	t := domain.Transition{
		ReminderID:       r.ID,
		ExpectedStatus:   r.Status,
		ExpectedAttempts: r.AttemptCount,
		AttemptCount:     r.AttemptCount,
		UpdatedAt:        now,
	}

	switch outcome {
	case domain.OutcomeSent:
		t.Status = domain.StatusSent
	case domain.OutcomeFailed:
		t.AttemptCount = r.AttemptCount + 1
		t.Status = domain.StatusFailed
		if t.AttemptCount >= domain.MaxAttempts {
			t.Status = domain.StatusExhausted
		}
		t.LastAttemptAt = &now
		t.LastError = &detail
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidInput, outcome)
	}

	applied, err := q.store.ApplyTransition(ctx, t)
	if err != nil {
		return "", fmt.Errorf("recording outcome: %w", err)
	}
	if !applied {
		return "", domain.ErrStaleReminder
	}

	if t.Status == domain.StatusExhausted {
		q.logger.Warn("reminder exhausted",
			"reminder_id", r.ID,
			"block_id", r.BlockID,
			"attempt", t.AttemptCount,
			"error", detail,
		)
	}
	return t.Status, nil
}

// AppendLog writes an audit entry. Failures are logged and swallowed so they
// never change the outcome of a delivery.
func (q *Queue) AppendLog(ctx context.Context, entry domain.DeliveryLogEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = q.clock.Now()
	}

	if err := q.store.InsertDeliveryLog(ctx, &entry); err != nil {
		q.logger.Error("failed to append delivery log",
			"error", err,
			"reminder_id", entry.ReminderID,
			"outcome", entry.Outcome,
		)
	}
}

// Status reports a user's reminder counts and their most recent delivery
// log entries, newest first.
func (q *Queue) Status(ctx context.Context, userID string, limit int) (*domain.StatusReport, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", domain.ErrInvalidInput)
	}
	limit = clampLimit(limit)

	counts, err := q.store.CountRemindersByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading reminder counts: %w", err)
	}

	logs, err := q.store.ListDeliveryLogs(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading delivery logs: %w", err)
	}

	return &domain.StatusReport{Notifications: counts, RecentEmails: logs}, nil
}

// Exhausted lists reminders that used every attempt. An empty userID lists
// them across all users.
func (q *Queue) Exhausted(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	reminders, err := q.store.ListExhaustedReminders(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing exhausted reminders: %w", err)
	}
	return reminders, nil
}

// Get returns a reminder by ID, or ErrNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Reminder, error) {
	r, err := q.store.GetReminder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading reminder: %w", err)
	}
	if r == nil {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

// Metrics returns aggregated delivery statistics.
func (q *Queue) Metrics(ctx context.Context) (*domain.DeliveryMetrics, error) {
	m, err := q.store.GetDeliveryMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading delivery metrics: %w", err)
	}
	return m, nil
}

// Ping checks that the store is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultStatusLimit
	}
	if limit > MaxStatusLimit {
		return MaxStatusLimit
	}
	return limit
}
