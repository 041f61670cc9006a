package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/mailer"
)

// Deliverer renders a reminder and hands it to the email provider under a
// per-attempt timeout.
type Deliverer struct {
	sender   mailer.Sender
	renderer mailer.Renderer
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDeliverer creates a deliverer that bounds each send by timeout.
func NewDeliverer(sender mailer.Sender, renderer mailer.Renderer, timeout time.Duration, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		sender:   sender,
		renderer: renderer,
		timeout:  timeout,
		logger:   logger,
	}
}

// Deliver makes one delivery attempt for r. Any error, including a timeout
// or a panic inside the sender, is a failed attempt.
func (d *Deliverer) Deliver(ctx context.Context, r domain.Reminder) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic during send: %v", mailer.ErrSendFailed, rec)
		}
	}()

	msg, err := d.renderer.Reminder(r)
	if err != nil {
		return fmt.Errorf("rendering reminder: %w", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("%w: panic during send: %v", mailer.ErrSendFailed, rec)
			}
		}()
		done <- d.sender.Send(ctx, msg)
	}()

	// Senders that ignore ctx still cannot hold the run past the timeout.
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", mailer.ErrSendFailed, ctx.Err())
	}
}
