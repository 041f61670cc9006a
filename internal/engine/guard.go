package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Priya8975/block-reminders/internal/mailer"
)

var ErrCircuitOpen = errors.New("email provider circuit is open")

// GuardedSender puts the circuit breaker and rate limiter in front of a
// mail provider. Rejections are reported as send failures so the reminder
// is retried on a later pass.
type GuardedSender struct {
	next          mailer.Sender
	breaker       *CircuitBreaker
	limiter       *RateLimiter
	provider      string
	ratePerSecond int
	logger        *slog.Logger
}

// NewGuardedSender wraps next with the breaker and limiter for provider.
func NewGuardedSender(next mailer.Sender, provider string, breaker *CircuitBreaker, limiter *RateLimiter, ratePerSecond int, logger *slog.Logger) *GuardedSender {
	return &GuardedSender{
		next:          next,
		breaker:       breaker,
		limiter:       limiter,
		provider:      provider,
		ratePerSecond: ratePerSecond,
		logger:        logger,
	}
}

// Send delivers msg if the circuit is closed and a send slot is free.
func (g *GuardedSender) Send(ctx context.Context, msg mailer.Message) error {
	if state, allowed := g.breaker.AllowRequest(ctx, g.provider); !allowed {
		g.logger.Debug("send rejected by circuit breaker", "provider", g.provider, "state", state)
		return errors.Join(mailer.ErrSendFailed, ErrCircuitOpen)
	}

	if err := g.limiter.Wait(ctx, g.provider, g.ratePerSecond); err != nil {
		return errors.Join(mailer.ErrSendFailed, err)
	}

	err := g.next.Send(ctx, msg)

	// The send may have used up ctx; the outcome is still recorded.
	rctx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		g.breaker.RecordSuccess(rctx, g.provider)
	case errors.Is(err, mailer.ErrInvalidMessage):
		// A malformed message says nothing about provider health.
	default:
		g.breaker.RecordFailure(rctx, g.provider)
	}
	return err
}

// CircuitState exposes the provider's breaker for the dashboard.
func (g *GuardedSender) CircuitState(ctx context.Context) CircuitBreakerState {
	return g.breaker.GetState(ctx, g.provider)
}

// Provider returns the name the breaker and limiter are keyed on.
func (g *GuardedSender) Provider() string {
	return g.provider
}
