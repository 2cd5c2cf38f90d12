// Package router assembles the HTTP surface of the intake service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/saudeflow/clinic-intake/internal/http/handlers"
	httpmiddleware "github.com/saudeflow/clinic-intake/internal/http/middleware"
	"github.com/saudeflow/clinic-intake/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	MessageWebhook *handlers.MessageWebhookHandler
	JobStatus      *handlers.JobStatusHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health)

	if cfg.MessageWebhook != nil {
		r.Post("/webhooks/messages", cfg.MessageWebhook.HandleInbound)
	}
	if cfg.JobStatus != nil {
		r.Get("/jobs/{jobID}", cfg.JobStatus.GetJob)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
