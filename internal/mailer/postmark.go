package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"
)

// PostmarkSender sends through the Postmark API.
type PostmarkSender struct {
	client *postmark.Client
	from   string
}

// NewPostmarkSender creates a Postmark sender.
func NewPostmarkSender(serverToken, accountToken, fromEmail, fromName string) (*PostmarkSender, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: Postmark server token is required", ErrInvalidConfig)
	}
	if accountToken == "" {
		return nil, fmt.Errorf("%w: Postmark account token is required", ErrInvalidConfig)
	}
	if err := validateSender(fromEmail); err != nil {
		return nil, err
	}

	from := fromEmail
	if fromName != "" {
		from = (&mail.Address{Name: fromName, Address: fromEmail}).String()
	}

	return &PostmarkSender{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}, nil
}

// Send delivers msg. A Postmark error code is an ErrSendFailed.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return errors.Join(ErrSendFailed, err)
	}

	to := msg.To
	if msg.ToName != "" {
		to = (&mail.Address{Name: msg.ToName, Address: msg.To}).String()
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		To:       to,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		HTMLBody: msg.HTML,
		TextBody: msg.Text,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
