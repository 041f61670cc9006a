package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/Priya8975/block-reminders/internal/engine"
	"github.com/Priya8975/block-reminders/internal/queue"
	ws "github.com/Priya8975/block-reminders/internal/websocket"
)

// CircuitReporter exposes the mail provider's circuit breaker.
type CircuitReporter interface {
	Provider() string
	CircuitState(ctx context.Context) engine.CircuitBreakerState
}

// DashboardHandler serves aggregate metrics for the dashboard.
type DashboardHandler struct {
	queue   *queue.Queue
	hub     *ws.Hub
	circuit CircuitReporter
	logger  *slog.Logger
}

// NewDashboardHandler builds the handler. circuit may be nil when sends are
// not guarded.
func NewDashboardHandler(q *queue.Queue, hub *ws.Hub, circuit CircuitReporter, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{queue: q, hub: hub, circuit: circuit, logger: logger}
}

type providerHealth struct {
	Provider       string                     `json:"provider"`
	CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
}

type metricsResponse struct {
	domain.DeliveryMetrics
	WebSocketClients int             `json:"websocket_clients"`
	Provider         *providerHealth `json:"provider,omitempty"`
}

// Metrics returns aggregated delivery metrics for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.queue.Metrics(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "failed to get metrics")
		return
	}

	resp := metricsResponse{
		DeliveryMetrics:  *metrics,
		WebSocketClients: h.hub.ClientCount(),
	}
	if h.circuit != nil {
		resp.Provider = &providerHealth{
			Provider:       h.circuit.Provider(),
			CircuitBreaker: h.circuit.CircuitState(r.Context()),
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
