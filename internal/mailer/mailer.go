package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/Priya8975/block-reminders/internal/config"
)

var (
	ErrSendFailed     = errors.New("mailer: failed to send email")
	ErrInvalidConfig  = errors.New("mailer: invalid config")
	ErrInvalidMessage = errors.New("mailer: invalid message")
)

// Sender delivers a single email. Implementations must honour ctx
// cancellation and return an error wrapping ErrSendFailed when the provider
// did not accept the message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a rendered email ready to hand to a provider.
type Message struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
	Tag     string `json:"tag,omitempty"`
}

// Validate checks that m has a recipient, a subject and a body.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: invalid recipient %q", ErrInvalidMessage, m.To)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidMessage)
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("%w: missing body", ErrInvalidMessage)
	}
	return nil
}

// New builds the sender selected by cfg.Provider.
func New(cfg config.EmailConfig, logger *slog.Logger) (Sender, error) {
	switch cfg.Provider {
	case config.EmailProviderSendGrid:
		s, err := NewSendGridSender(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName)
		if err != nil {
			return nil, err
		}
		// SENDGRID_HOST points at mock-endpoints in local setups.
		if cfg.SendGridHost != "" {
			s.host = strings.TrimRight(cfg.SendGridHost, "/")
		}
		return s, nil
	case config.EmailProviderPostmark:
		return NewPostmarkSender(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.FromEmail, cfg.FromName)
	case config.EmailProviderLog:
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func validateSender(fromEmail string) error {
	if fromEmail == "" {
		return fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(fromEmail); err != nil {
		return fmt.Errorf("%w: from address must be a valid email address", ErrInvalidConfig)
	}
	return nil
}
