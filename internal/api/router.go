package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutboxStats reports the backlog of the event relay.
type OutboxStats interface {
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type RouterOptions struct {
	Timeout        time.Duration
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Outbox         OutboxStats
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health(opts.Outbox))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Delete("/jobs/{jobID}", h.StopJob)
		r.Get("/jobs/{jobID}/records", h.GetJobRecords)
		r.Get("/stats", h.GetStats)
	})

	return r
}

func (h *Handlers) health(outbox OutboxStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{"status": "ok"}
		status := http.StatusOK

		if outbox != nil {
			pending, err := outbox.CountByStatus(r.Context(), "pending", "failed")
			if err != nil {
				h.logger.Warn("failed to count pending outbox events", "error", err)
			}
			deadLetter, err := outbox.CountByStatus(r.Context(), "dead_letter")
			if err != nil {
				h.logger.Warn("failed to count dead letter events", "error", err)
			}
			health["outbox"] = map[string]int64{"pending": pending, "dead_letter": deadLetter}

			if pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetter > deadLetterFailThreshold {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}

		h.respondJSON(w, status, health)
	}
}
