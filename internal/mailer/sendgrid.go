package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGridSender sends through the SendGrid v3 mail send API.
type SendGridSender struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
}

// NewSendGridSender creates a SendGrid sender.
func NewSendGridSender(apiKey, fromEmail, fromName string) (*SendGridSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: SendGrid API key is required", ErrInvalidConfig)
	}
	if err := validateSender(fromEmail); err != nil {
		return nil, err
	}

	return &SendGridSender{
		apiKey:    apiKey,
		host:      sendGridHost,
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// Send delivers msg. Any non-2xx response is an ErrSendFailed.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.Tag != "" {
		message.AddCategories(msg.Tag)
	}

	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.StatusCode >= 300 {
		return errors.Join(
			ErrSendFailed,
			fmt.Errorf("sendgrid error: %d - %s", resp.StatusCode, resp.Body),
		)
	}
	return nil
}
