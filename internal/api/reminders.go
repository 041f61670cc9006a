package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/queue"
	"github.com/go-chi/chi/v5"
)

// ReminderHandler serves reminder enqueue, lookup and cancel.
type ReminderHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewReminderHandler creates a reminder handler.
func NewReminderHandler(q *queue.Queue, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{queue: q, logger: logger}
}

// Create queues the reminder for a newly created block. An existing
// reminder for the same block is returned with 200.
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reminder, created, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, err, "failed to enqueue reminder")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, reminder)
}

// Get returns a single reminder by ID.
func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	reminder, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, err, "failed to get reminder")
		return
	}
	respondJSON(w, http.StatusOK, reminder)
}

// CancelBlock drops every reminder of a deleted block.
func (h *ReminderHandler) CancelBlock(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "blockID")

	n, err := h.queue.Cancel(r.Context(), blockID)
	if err != nil {
		respondServiceError(w, h.logger, err, "failed to cancel reminders")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"block_id":  blockID,
		"cancelled": n,
	})
}
