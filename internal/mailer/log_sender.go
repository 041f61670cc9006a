package mailer

import (
	"context"
	"errors"
	"log/slog"
)

// LogSender writes messages to the log instead of sending them. It is the
// default provider so a fresh checkout runs without email credentials.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that only logs messages.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	s.logger.Info("email sent (log provider)",
		"to", msg.To,
		"subject", msg.Subject,
		"tag", msg.Tag,
		"text_bytes", len(msg.Text),
		"html_bytes", len(msg.HTML),
	)
	return nil
}
