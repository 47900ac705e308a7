// Package server provides HTTP server setup for the anomaly service.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-anomaly/internal/handlers"
	"github.com/telhawk-systems/telhawk-anomaly/internal/middleware"
)

// NewRouter constructs the chi router with the anomaly API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetAlert)
			r.Post("/acknowledge", h.AcknowledgeAlert)
			r.Post("/resolve", h.ResolveAlert)
		})
	})

	return r
}
