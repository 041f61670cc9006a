package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the service's Prometheus collectors. It observes
// processing runs and wraps the HTTP router.
type Collector struct {
	RemindersAttempted *prometheus.CounterVec
	SendDuration       *prometheus.HistogramVec
	RemindersExhausted prometheus.Counter
	Runs               *prometheus.CounterVec
	LastRunSelected    prometheus.Gauge
	BlockEvents        *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		RemindersAttempted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminders_attempted_total",
				Help: "Total number of reminder delivery attempts",
			},
			[]string{"outcome"},
		),
		SendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reminder_send_duration_seconds",
				Help:    "Time taken to hand a reminder to the email provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		RemindersExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reminders_exhausted_total",
				Help: "Total number of reminders that failed every attempt",
			},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_runs_total",
				Help: "Total number of processing runs",
			},
			[]string{"result"},
		),
		LastRunSelected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reminder_last_run_selected",
				Help: "Number of reminders selected by the most recent processing run",
			},
		),
		BlockEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "block_events_consumed_total",
				Help: "Total number of block events consumed from Kafka",
			},
			[]string{"type", "result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	reg.MustRegister(
		c.RemindersAttempted,
		c.SendDuration,
		c.RemindersExhausted,
		c.Runs,
		c.LastRunSelected,
		c.BlockEvents,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// ReminderAttempted records one delivery attempt and its send latency.
func (c *Collector) ReminderAttempted(r domain.Reminder, outcome domain.Outcome, status domain.Status, elapsed time.Duration, detail string) {
	c.RemindersAttempted.WithLabelValues(string(outcome)).Inc()
	c.SendDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if status == domain.StatusExhausted {
		c.RemindersExhausted.Inc()
	}
}

// RunCompleted records a finished processing run.
func (c *Collector) RunCompleted(summary domain.RunSummary) {
	c.Runs.WithLabelValues("completed").Inc()
	c.LastRunSelected.Set(float64(summary.TotalSelected))
}

// RunFailed records a run that aborted during selection.
func (c *Collector) RunFailed() {
	c.Runs.WithLabelValues("error").Inc()
}

// BlockEventConsumed counts a block event by type and result.
func (c *Collector) BlockEventConsumed(eventType, result string) {
	c.BlockEvents.WithLabelValues(eventType, result).Inc()
}

// Middleware records request counts and latencies labelled by chi route
// pattern, which keeps label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
