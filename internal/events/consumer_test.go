package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/queue"
	"github.com/Priya8975/block-reminders/internal/store"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) BlockEventConsumed(eventType, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[eventType+"/"+result]++
}

func newTestConsumer(t *testing.T, reader messageReader) (*Consumer, *queue.Queue, *countingRecorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(store.NewMemoryStore(), logger)
	rec := &countingRecorder{}
	return newConsumer(reader, q, rec, logger), q, rec
}

func encode(t *testing.T, e BlockEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func createdEvent(blockID string) BlockEvent {
	return BlockEvent{
		Type:             TypeBlockCreated,
		BlockID:          blockID,
		UserID:           "user-1",
		RecipientAddress: "ada@example.com",
		RecipientName:    "Ada",
		Title:            "Deep work",
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
	}
}

func TestHandleMessage_CreateThenDelete(t *testing.T) {
	c, q, rec := newTestConsumer(t, nil)
	ctx := context.Background()

	require.NoError(t, c.HandleMessage(ctx, encode(t, createdEvent("block-1"))))

	report, err := q.Status(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notifications.Pending)

	require.NoError(t, c.HandleMessage(ctx, encode(t, BlockEvent{Type: TypeBlockDeleted, BlockID: "block-1"})))

	report, err = q.Status(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Zero(t, report.Notifications.Total)

	assert.Equal(t, 1, rec.counts["block.created/applied"])
	assert.Equal(t, 1, rec.counts["block.deleted/applied"])
}

func TestHandleMessage_DuplicateCreateIsIdempotent(t *testing.T) {
	c, q, _ := newTestConsumer(t, nil)
	ctx := context.Background()

	msg := encode(t, createdEvent("block-1"))
	require.NoError(t, c.HandleMessage(ctx, msg))
	require.NoError(t, c.HandleMessage(ctx, msg))

	report, err := q.Status(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notifications.Total)
}

func TestHandleMessage_InvalidEvents(t *testing.T) {
	c, _, rec := newTestConsumer(t, nil)
	ctx := context.Background()

	badAddress := createdEvent("block-1")
	badAddress.RecipientAddress = "nope"

	tests := []struct {
		name  string
		value []byte
	}{
		{"malformed json", []byte(`{"type":`)},
		{"unknown type", encode(t, BlockEvent{Type: "block.renamed", BlockID: "block-1"})},
		{"invalid create", encode(t, badAddress)},
		{"delete without block id", encode(t, BlockEvent{Type: TypeBlockDeleted})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.HandleMessage(ctx, tt.value)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	assert.Equal(t, 2, rec.counts["unknown/skipped"])
	assert.Equal(t, 1, rec.counts["block.created/skipped"])
	assert.Equal(t, 1, rec.counts["block.deleted/skipped"])
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) committedOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestRun_CommitsHandledAndInvalidMessages(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: encode(t, createdEvent("block-1"))},
		{Offset: 2, Value: []byte("garbage")},
		{Offset: 3, Value: encode(t, createdEvent("block-2"))},
	}}
	c, q, _ := newTestConsumer(t, reader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{1, 2, 3}, reader.committedOffsets())

	report, err := q.Status(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Notifications.Pending)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

// flakyReminders fails the first failures calls, then delegates to next.
type flakyReminders struct {
	mu       sync.Mutex
	failures int
	calls    int
	next     Reminders
}

func (f *flakyReminders) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.failures < 0 || f.calls <= f.failures
}

func (f *flakyReminders) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyReminders) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.Reminder, bool, error) {
	if f.fail() {
		return nil, false, errors.New("store unavailable")
	}
	return f.next.Enqueue(ctx, req)
}

func (f *flakyReminders) Cancel(ctx context.Context, blockID string) (int64, error) {
	if f.fail() {
		return 0, errors.New("store unavailable")
	}
	return f.next.Cancel(ctx, blockID)
}

func TestRun_PersistentStoreFailureBlocksLaterCommits(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 7, Value: encode(t, createdEvent("block-1"))},
		{Offset: 8, Value: []byte("garbage")},
		{Offset: 9, Value: encode(t, createdEvent("block-2"))},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reminders := &flakyReminders{failures: -1}
	c := newConsumer(reader, reminders, nil, logger)
	c.retryInterval = time.Millisecond
	c.maxRetryInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return reminders.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, reader.committedOffsets())

	// Later messages were never fetched past the failing one.
	reader.mu.Lock()
	assert.Len(t, reader.messages, 2)
	reader.mu.Unlock()
}

func TestRun_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 7, Value: encode(t, createdEvent("block-1"))},
		{Offset: 8, Value: []byte("garbage")},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(store.NewMemoryStore(), logger)
	reminders := &flakyReminders{failures: 2, next: q}
	c := newConsumer(reader, reminders, nil, logger)
	c.retryInterval = time.Millisecond
	c.maxRetryInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(reader.committedOffsets()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{7, 8}, reader.committedOffsets())
	assert.Equal(t, 3, reminders.callCount())

	report, err := q.Status(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Notifications.Pending)
}
