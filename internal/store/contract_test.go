package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reminderStore is what every backend implements for the queue.
type reminderStore interface {
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

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newReminder(blockID string, start time.Time) domain.Reminder {
	return domain.Reminder{
		BlockID:          blockID,
		UserID:           "user-1",
		RecipientAddress: "ada@example.com",
		RecipientName:    "Ada",
		Title:            "Deep work",
		BlockStartTime:   start,
		BlockEndTime:     start.Add(time.Hour),
		DueAt:            domain.DueAtFor(start),
		Status:           domain.StatusPending,
		CreatedAt:        base,
		UpdatedAt:        base,
	}
}

func failTransition(r domain.Reminder, at time.Time) domain.Transition {
	msg := "smtp timeout"
	next := domain.StatusFailed
	if r.AttemptCount+1 >= domain.MaxAttempts {
		next = domain.StatusExhausted
	}
	return domain.Transition{
		ReminderID:       r.ID,
		ExpectedStatus:   r.Status,
		ExpectedAttempts: r.AttemptCount,
		Status:           next,
		AttemptCount:     r.AttemptCount + 1,
		LastAttemptAt:    &at,
		LastError:        &msg,
		UpdatedAt:        at,
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) reminderStore) {
	t.Run("insert is idempotent per block", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, created, err := s.InsertReminder(ctx, newReminder("block-1", base.Add(time.Hour)))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, first.ID)

		again, created, err := s.InsertReminder(ctx, newReminder("block-1", base.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.True(t, again.DueAt.Equal(first.DueAt))

		got, err := s.GetReminder(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "block-1", got.BlockID)

		missing, err := s.GetReminder(ctx, "not-an-id")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("eligible selection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		late, _, err := s.InsertReminder(ctx, newReminder("late", base.Add(30*time.Minute)))
		require.NoError(t, err)
		early, _, err := s.InsertReminder(ctx, newReminder("early", base.Add(20*time.Minute)))
		require.NoError(t, err)
		_, _, err = s.InsertReminder(ctx, newReminder("future", base.Add(5*time.Hour)))
		require.NoError(t, err)

		got, err := s.FindEligibleReminders(ctx, base.Add(20*time.Minute), domain.MaxAttempts, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, early.ID, got[0].ID)
		assert.Equal(t, late.ID, got[1].ID)

		got, err = s.FindEligibleReminders(ctx, base.Add(20*time.Minute), domain.MaxAttempts, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("compare and set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, _, err := s.InsertReminder(ctx, newReminder("block-1", base))
		require.NoError(t, err)

		ok, err := s.ApplyTransition(ctx, failTransition(*r, base.Add(time.Minute)))
		require.NoError(t, err)
		assert.True(t, ok)

		// Same snapshot a second time no longer matches.
		ok, err = s.ApplyTransition(ctx, failTransition(*r, base.Add(2*time.Minute)))
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err := s.GetReminder(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, stored.Status)
		assert.Equal(t, 1, stored.AttemptCount)
		require.NotNil(t, stored.LastError)
		assert.Equal(t, "smtp timeout", *stored.LastError)
	})

	t.Run("exhausted reminders leave the eligible set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.InsertReminder(ctx, newReminder("block-1", base))
		require.NoError(t, err)

		for i := 0; i < domain.MaxAttempts; i++ {
			due, err := s.FindEligibleReminders(ctx, base, domain.MaxAttempts, 0)
			require.NoError(t, err)
			require.Len(t, due, 1)
			ok, err := s.ApplyTransition(ctx, failTransition(due[0], base.Add(time.Duration(i+1)*time.Minute)))
			require.NoError(t, err)
			require.True(t, ok)
		}

		due, err := s.FindEligibleReminders(ctx, base.Add(time.Hour), domain.MaxAttempts, 0)
		require.NoError(t, err)
		assert.Empty(t, due)

		exhausted, err := s.ListExhaustedReminders(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, exhausted, 1)
		assert.Equal(t, domain.MaxAttempts, exhausted[0].AttemptCount)

		counts, err := s.CountRemindersByStatus(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Exhausted)
		assert.Equal(t, 1, counts.Total)
	})

	t.Run("cancel", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, _, err := s.InsertReminder(ctx, newReminder("block-1", base))
		require.NoError(t, err)

		n, err := s.DeleteRemindersByBlock(ctx, "block-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ok, err := s.ApplyTransition(ctx, failTransition(*r, base))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("insert races cancel", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				s.DeleteRemindersByBlock(ctx, "block-1")
			}
		}()

		for i := 0; i < 200; i++ {
			r, _, err := s.InsertReminder(context.Background(), newReminder("block-1", base))
			require.NoError(t, err, "insert %d", i)
			require.Equal(t, "block-1", r.BlockID)
		}
		cancel()
		wg.Wait()
	})

	t.Run("delivery logs and metrics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, _, err := s.InsertReminder(ctx, newReminder("block-1", base))
		require.NoError(t, err)

		detail := "503"
		entries := []domain.DeliveryLogEntry{
			{ReminderID: r.ID, UserID: "user-1", RecipientAddress: r.RecipientAddress, SubjectLine: r.SubjectLine(), Outcome: domain.OutcomeFailed, ErrorDetail: &detail, OccurredAt: base.Add(time.Minute)},
			{ReminderID: r.ID, UserID: "user-1", RecipientAddress: r.RecipientAddress, SubjectLine: r.SubjectLine(), Outcome: domain.OutcomeSent, OccurredAt: base.Add(2 * time.Minute)},
		}
		for i := range entries {
			require.NoError(t, s.InsertDeliveryLog(ctx, &entries[i]))
			assert.NotEmpty(t, entries[i].ID)
		}

		logs, err := s.ListDeliveryLogs(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, domain.OutcomeSent, logs[0].Outcome)
		assert.Equal(t, domain.OutcomeFailed, logs[1].Outcome)

		m, err := s.GetDeliveryMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, m.TotalDeliveries)
		assert.Equal(t, 1, m.SuccessCount)
		assert.Equal(t, 1, m.FailedCount)
		assert.InDelta(t, 50.0, m.SuccessRate, 0.001)
	})
}
