package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/mailer"
)

// TestEmailHandler sends one-off test messages.
type TestEmailHandler struct {
	sender   mailer.Sender
	renderer mailer.Renderer
	clock    clock.Clock
	timeout  time.Duration
	logger   *slog.Logger
}

// NewTestEmailHandler creates a test email handler. timeout <= 0 means no limit.
func NewTestEmailHandler(sender mailer.Sender, renderer mailer.Renderer, c clock.Clock, timeout time.Duration, logger *slog.Logger) *TestEmailHandler {
	return &TestEmailHandler{sender: sender, renderer: renderer, clock: c, timeout: timeout, logger: logger}
}

type testEmailRequest struct {
	Email string `json:"email"`
}

// Send delivers a one-off message so an operator can check the provider
// setup. It does not touch the queue.
func (h *TestEmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	to := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(to); err != nil {
		respondError(w, http.StatusBadRequest, "email must be a valid address")
		return
	}

	sentAt := h.clock.Now()
	msg, err := h.renderer.TestEmail(to, sentAt)
	if err != nil {
		h.logger.Error("failed to render test email", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to render test email")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	if err := h.sender.Send(ctx, msg); err != nil {
		h.logger.Warn("test email failed", "error", err, "to", to)
		status := http.StatusBadGateway
		if errors.Is(err, mailer.ErrInvalidMessage) {
			status = http.StatusBadRequest
		}
		respondError(w, status, "failed to send test email")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Test email sent",
		"to":      to,
		"sent_at": sentAt,
	})
}
