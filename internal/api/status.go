package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/queue"
	"github.com/go-chi/chi/v5"
)

// StatusHandler serves per-user reminder status.
type StatusHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(q *queue.Queue, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{queue: q, logger: logger}
}

// Status returns a user's reminder counts and recent delivery log.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	report, err := h.queue.Status(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		respondServiceError(w, h.logger, err, "Failed to fetch notification status")
		return
	}
	if report.RecentEmails == nil {
		report.RecentEmails = []domain.DeliveryLogEntry{}
	}
	respondJSON(w, http.StatusOK, report)
}

// Exhausted lists a user's reminders that used every attempt.
func (h *StatusHandler) Exhausted(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	reminders, err := h.queue.Exhausted(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		respondServiceError(w, h.logger, err, "failed to list exhausted reminders")
		return
	}
	if reminders == nil {
		reminders = []domain.Reminder{}
	}
	respondJSON(w, http.StatusOK, reminders)
}

// parseLimit reads ?limit=. Absent means the queue default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
