// Command mock-endpoints imitates the SendGrid mail send API for local
// runs. Point SENDGRID_HOST at one of its prefixes to choose a behaviour.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var requestCount atomic.Int64

type sendRequest struct {
	Subject          string `json:"subject"`
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
	} `json:"personalizations"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	logger.Info("mock mail provider starting", "port", port)
	if err := http.ListenAndServe(":"+port, newRouter(logger)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// SENDGRID_HOST=http://localhost:9090
	r.Post("/v3/mail/send", accept(logger, 0))
	// SENDGRID_HOST=http://localhost:9090/slow
	r.Post("/slow/v3/mail/send", accept(logger, 3*time.Second))
	// SENDGRID_HOST=http://localhost:9090/fail
	r.Post("/fail/v3/mail/send", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(logger, r, count, http.StatusServiceUnavailable)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "service unavailable"}},
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	return r
}

// accept answers like SendGrid does on success: 202 with an empty body.
func accept(logger *slog.Logger, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		logRequest(logger, r, count, http.StatusAccepted)
		w.WriteHeader(http.StatusAccepted)
	}
}

func logRequest(logger *slog.Logger, r *http.Request, count int64, status int) {
	var req sendRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var to string
	if len(req.Personalizations) > 0 && len(req.Personalizations[0].To) > 0 {
		to = req.Personalizations[0].To[0].Email
	}

	logger.Info("mail send",
		"n", count,
		"path", r.URL.Path,
		"status", status,
		"to", to,
		"subject", req.Subject,
	)
}
