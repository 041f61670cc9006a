package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/Priya8975/block-reminders/internal/mailer"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubSender struct {
	calls int
	err   error
}

func (s *stubSender) Send(ctx context.Context, msg mailer.Message) error {
	s.calls++
	return s.err
}

func setupGuard(t *testing.T, next mailer.Sender) *GuardedSender {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cb := NewCircuitBreaker(client, logger, WithFailureThreshold(2))
	rl := NewRateLimiter(client, logger)
	return NewGuardedSender(next, "sendgrid", cb, rl, 0, logger)
}

func TestGuardedSender_PassesThrough(t *testing.T) {
	next := &stubSender{}
	g := setupGuard(t, next)

	if err := g.Send(context.Background(), mailer.Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", next.calls)
	}
	if got := g.CircuitState(context.Background()).State; got != StateClosed {
		t.Errorf("expected closed circuit, got %q", got)
	}
}

func TestGuardedSender_OpensCircuitOnProviderFailures(t *testing.T) {
	next := &stubSender{err: errors.Join(mailer.ErrSendFailed, errors.New("503"))}
	g := setupGuard(t, next)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Send(ctx, mailer.Message{}); !errors.Is(err, mailer.ErrSendFailed) {
			t.Fatalf("send %d: expected ErrSendFailed, got %v", i+1, err)
		}
	}

	err := g.Send(ctx, mailer.Message{})
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, mailer.ErrSendFailed) {
		t.Errorf("expected open-circuit send failure, got %v", err)
	}
	if next.calls != 2 {
		t.Errorf("provider should not be called while open, got %d calls", next.calls)
	}
}

func TestGuardedSender_InvalidMessageDoesNotTrip(t *testing.T) {
	next := &stubSender{err: errors.Join(mailer.ErrSendFailed, fmt.Errorf("%w: missing subject", mailer.ErrInvalidMessage))}
	g := setupGuard(t, next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = g.Send(ctx, mailer.Message{})
	}

	if got := g.CircuitState(ctx); got.State != StateClosed || got.Failures != 0 {
		t.Errorf("expected untouched circuit, got %+v", got)
	}
}
