package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns the liveness handler.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, HealthResponse{
			Status:  "healthy",
			Version: "1.0.0",
		})
	}
}

// ReadyHandler answers 503 while the store cannot be reached.
func ReadyHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Version: "1.0.0"})
			return
		}
		respondJSON(w, http.StatusOK, HealthResponse{Status: "ready", Version: "1.0.0"})
	}
}
