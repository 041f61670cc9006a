package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/block-reminders/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps queue errors onto status codes. Internal errors
// are logged and replaced by fallback so store details never leak.
func respondServiceError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
