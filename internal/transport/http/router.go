package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicsync/internal/platform/middleware"
	"clinicsync/internal/transport/http/shared"
)

// RouteRegistrar lets each domain handler wire its own routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// NewRouter assembles the public HTTP surface: domain routes plus the
// operational endpoints.
func NewRouter(logger *slog.Logger, health http.HandlerFunc, registrars ...RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", health)
	r.Handle("/metrics", promhttp.Handler())

	for _, registrar := range registrars {
		registrar.Register(r)
	}
	return r
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// NewHealthHandler reports shallow dependency health. Aggregation across
// services is someone else's job; this only answers for this process.
func NewHealthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		shared.WriteJSON(w, status, body)
	}
}
