// Package api exposes the router's HTTP surface: health probes, Prometheus
// metrics, and read-only monitoring endpoints for pools, warnings, and
// standby state.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.flowcatalyst.tech/dispatch/internal/common/health"
	"go.flowcatalyst.tech/dispatch/internal/router/warning"
)

// RouteRegistrar mounts additional routes on the root router. The dispatch
// binary uses this to expose the processing endpoint next to monitoring.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouterOptions holds the collaborators exposed through the HTTP surface.
// Any field may be nil; the corresponding routes are then not mounted.
type RouterOptions struct {
	HealthChecker  *health.Checker
	Monitoring     *MonitoringHandler
	WarningHandler *warning.Handler
	Routes         []RouteRegistrar
}

// NewRouter builds the chi router serving the monitoring API.
//
// Routes:
//
//	GET /health                   liveness probe (always 200 while serving)
//	GET /health/ready             readiness probe (503 when a check fails)
//	GET /metrics                  Prometheus metrics
//	GET /api/monitoring/pools     per-pool stats
//	GET /api/monitoring/warnings  active warnings
//	GET /api/monitoring/standby   standby role
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if opts.HealthChecker != nil {
		r.Get("/health", opts.HealthChecker.HandleLive)
		r.Get("/health/ready", opts.HealthChecker.HandleReady)
		// /q/ aliases kept for existing probe configs.
		r.Get("/q/health", opts.HealthChecker.HandleHealth)
		r.Get("/q/health/live", opts.HealthChecker.HandleLive)
		r.Get("/q/health/ready", opts.HealthChecker.HandleReady)
	}

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	r.Route("/api/monitoring", func(r chi.Router) {
		if opts.Monitoring != nil {
			opts.Monitoring.RegisterRoutes(r)
		}
		if opts.WarningHandler != nil {
			opts.WarningHandler.RegisterRoutes(r)
		}
	})

	for _, reg := range opts.Routes {
		reg.RegisterRoutes(r)
	}

	return r
}
