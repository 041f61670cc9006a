package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/mailer"
	"github.com/Priya8975/block-reminders/internal/metrics"
	"github.com/Priya8975/block-reminders/internal/queue"
	ws "github.com/Priya8975/block-reminders/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators the router wires into handlers. Circuit,
// Metrics and MetricsHandler are optional.
type Deps struct {
	Queue          *queue.Queue
	Runner         Runner
	Sender         mailer.Sender
	Renderer       mailer.Renderer
	Hub            *ws.Hub
	Circuit        CircuitReporter
	Metrics        *metrics.Collector
	MetricsHandler http.Handler
	Clock          clock.Clock
	CronSecret     string
	SendTimeout    time.Duration
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	if d.Clock == nil {
		d.Clock = clock.NewRealClock()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(corsMiddleware)

	triggerHandler := NewTriggerHandler(d.Runner, d.Clock, d.Logger)
	reminderHandler := NewReminderHandler(d.Queue, d.Logger)
	statusHandler := NewStatusHandler(d.Queue, d.Logger)
	testEmailHandler := NewTestEmailHandler(d.Sender, d.Renderer, d.Clock, d.SendTimeout, d.Logger)
	dashHandler := NewDashboardHandler(d.Queue, d.Hub, d.Circuit, d.Logger)

	r.Get("/ws", d.Hub.HandleWebSocket)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())
		r.Get("/ready", ReadyHandler(d.Queue))

		r.With(CronAuth(d.CronSecret)).Get("/cron/process-notifications", triggerHandler.Process)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/process", triggerHandler.Process)
			r.Post("/test-email", testEmailHandler.Send)
		})

		r.Route("/users/{userID}/notifications", func(r chi.Router) {
			r.Get("/status", statusHandler.Status)
			r.Get("/exhausted", statusHandler.Exhausted)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", reminderHandler.Create)
			r.Get("/{id}", reminderHandler.Get)
		})
		r.Delete("/blocks/{blockID}/reminders", reminderHandler.CancelBlock)

		r.Get("/metrics", dashHandler.Metrics)
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
