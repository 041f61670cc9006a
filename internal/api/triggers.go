package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/domain"
)

// Runner executes one processing pass.
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (domain.RunSummary, error)
}

// TriggerHandler starts processing runs over HTTP.
type TriggerHandler struct {
	runner Runner
	clock  clock.Clock
	logger *slog.Logger
}

// NewTriggerHandler creates a trigger handler.
func NewTriggerHandler(runner Runner, c clock.Clock, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, clock: c, logger: logger}
}

type triggerResponse struct {
	Message    string    `json:"message"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

type triggerErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Process runs one pass and reports its tally. Scheduled and manual
// triggers share it; only the scheduled route sits behind CronAuth.
func (h *TriggerHandler) Process(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunOnce(r.Context(), h.clock.Now())
	if err != nil {
		h.logger.Error("processing pass failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, triggerErrorResponse{
			Error:     "Failed to process notifications",
			Timestamp: h.clock.Now(),
		})
		return
	}

	msg := "Notifications processed"
	if summary.TotalSelected == 0 {
		msg = "No pending notifications"
	}

	respondJSON(w, http.StatusOK, triggerResponse{
		Message:    msg,
		Processed:  summary.TotalSelected,
		Successful: summary.SuccessCount,
		Failed:     summary.FailureCount,
		Timestamp:  h.clock.Now(),
	})
}

// CronAuth rejects requests whose Authorization header is not
// "Bearer <secret>". An empty secret rejects everything.
func CronAuth(secret string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
