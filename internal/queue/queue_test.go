package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *store.MemoryStore, *clock.MockClock) {
	t.Helper()
	mem := store.NewMemoryStore()
	clk := clock.NewMockClock(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clk)}, opts...)
	return New(mem, logger, opts...), mem, clk
}

func request(blockID string, start time.Time) domain.EnqueueRequest {
	return domain.EnqueueRequest{
		BlockID:          blockID,
		UserID:           "user-1",
		RecipientAddress: "ada@example.com",
		RecipientName:    "Ada",
		Title:            "Deep work",
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
	}
}

func TestEnqueue_CreatesPendingReminder(t *testing.T) {
	q, _, _ := newTestQueue(t)

	r, created, err := q.Enqueue(context.Background(), request("block-1", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, domain.StatusPending, r.Status)
	assert.Equal(t, 0, r.AttemptCount)
	assert.Equal(t, t0.Add(50*time.Minute), r.DueAt)
	assert.Nil(t, r.Description)
}

func TestEnqueue_DuplicateBlockReturnsExisting(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, request("block-1", t0.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := q.Enqueue(ctx, request("block-1", t0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.DueAt, second.DueAt)
}

func TestEnqueue_InvalidRequestWritesNothing(t *testing.T) {
	q, mem, _ := newTestQueue(t)
	ctx := context.Background()

	req := request("block-1", t0.Add(time.Hour))
	req.RecipientAddress = "not-an-address"

	_, _, err := q.Enqueue(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	counts, err := mem.CountRemindersByStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
}

func TestSelectEligible_RespectsDueTimeAndOrder(t *testing.T) {
	q, _, clk := newTestQueue(t)
	ctx := context.Background()

	late, _, err := q.Enqueue(ctx, request("late", t0.Add(30*time.Minute)))
	require.NoError(t, err)
	early, _, err := q.Enqueue(ctx, request("early", t0.Add(20*time.Minute)))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, request("future", t0.Add(3*time.Hour)))
	require.NoError(t, err)

	got, err := q.SelectEligible(ctx, clk.Now().Add(25*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)
}

func TestSelectEligible_DueExactlyNow(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	r, _, err := q.Enqueue(ctx, request("block-1", t0.Add(domain.LeadTime)))
	require.NoError(t, err)

	got, err := q.SelectEligible(ctx, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r.ID, got[0].ID)
}

func TestSelectEligible_BatchLimit(t *testing.T) {
	q, _, _ := newTestQueue(t, WithBatchLimit(2))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := q.Enqueue(ctx, request(id, t0))
		require.NoError(t, err)
	}

	got, err := q.SelectEligible(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRecordOutcome_Sent(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	r, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)

	status, err := q.RecordOutcome(ctx, *r, domain.OutcomeSent, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, status)

	stored, err := q.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 0, stored.AttemptCount)

	got, err := q.SelectEligible(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordOutcome_FailuresExhaustAfterThreeAttempts(t *testing.T) {
	q, _, clk := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)

	want := []domain.Status{domain.StatusFailed, domain.StatusFailed, domain.StatusExhausted}
	for i, expected := range want {
		clk.Add(time.Minute)
		selected, err := q.SelectEligible(ctx, clk.Now())
		require.NoError(t, err)
		require.Len(t, selected, 1, "pass %d", i+1)

		status, err := q.RecordOutcome(ctx, selected[0], domain.OutcomeFailed, "smtp timeout")
		require.NoError(t, err)
		assert.Equal(t, expected, status)

		stored, err := q.Get(ctx, selected[0].ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, stored.AttemptCount)
		require.NotNil(t, stored.LastAttemptAt)
		assert.Equal(t, clk.Now(), *stored.LastAttemptAt)
		require.NotNil(t, stored.LastError)
		assert.Equal(t, "smtp timeout", *stored.LastError)
	}

	clk.Add(time.Minute)
	selected, err := q.SelectEligible(ctx, clk.Now())
	require.NoError(t, err)
	assert.Empty(t, selected)

	exhausted, err := q.Exhausted(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, exhausted, 1)
}

func TestRecordOutcome_StaleSnapshot(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	r, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)

	_, err = q.RecordOutcome(ctx, *r, domain.OutcomeSent, "")
	require.NoError(t, err)

	_, err = q.RecordOutcome(ctx, *r, domain.OutcomeFailed, "late failure")
	require.ErrorIs(t, err, domain.ErrStaleReminder)

	stored, err := q.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 0, stored.AttemptCount)
}

func TestRecordOutcome_CancelledReminderIsStale(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	r, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)

	_, err = q.Cancel(ctx, "block-1")
	require.NoError(t, err)

	_, err = q.RecordOutcome(ctx, *r, domain.OutcomeSent, "")
	require.ErrorIs(t, err, domain.ErrStaleReminder)
}

func TestCancel(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	r, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)

	n, err := q.Cancel(ctx, "block-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	n, err = q.Cancel(ctx, "block-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = q.Cancel(ctx, " ")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatus(t *testing.T) {
	q, _, clk := newTestQueue(t)
	ctx := context.Background()

	sent, _, err := q.Enqueue(ctx, request("block-1", t0))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, request("block-2", t0.Add(time.Hour)))
	require.NoError(t, err)

	_, err = q.RecordOutcome(ctx, *sent, domain.OutcomeSent, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clk.Add(time.Second)
		q.AppendLog(ctx, domain.DeliveryLogEntry{
			ReminderID:  sent.ID,
			UserID:      "user-1",
			SubjectLine: sent.SubjectLine(),
			Outcome:     domain.OutcomeSent,
		})
	}

	report, err := q.Status(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Notifications.Total)
	assert.Equal(t, 1, report.Notifications.Sent)
	assert.Equal(t, 1, report.Notifications.Pending)
	require.Len(t, report.RecentEmails, 2)
	assert.True(t, report.RecentEmails[0].OccurredAt.After(report.RecentEmails[1].OccurredAt))

	empty, err := q.Status(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Zero(t, empty.Notifications.Total)
	assert.Empty(t, empty.RecentEmails)

	_, err = q.Status(ctx, "", 0)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

type failingLogStore struct {
	*store.MemoryStore
}

func (failingLogStore) InsertDeliveryLog(context.Context, *domain.DeliveryLogEntry) error {
	return errors.New("disk full")
}

func TestAppendLog_SwallowsStoreErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := New(failingLogStore{store.NewMemoryStore()}, logger)

	assert.NotPanics(t, func() {
		q.AppendLog(context.Background(), domain.DeliveryLogEntry{ReminderID: "r-1", Outcome: domain.OutcomeFailed})
	})
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultStatusLimit, clampLimit(0))
	assert.Equal(t, DefaultStatusLimit, clampLimit(-5))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, MaxStatusLimit, clampLimit(1000))
}
