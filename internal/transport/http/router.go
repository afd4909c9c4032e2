package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payrun/internal/platform/middleware"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// RouterConfig carries everything the router mounts.
type RouterConfig struct {
	Tokens      *TokenHandler
	Clicks      *ClickHandler
	Ops         *OpsHandler
	Idempotency *IdempotencyHandler

	// OpsAuth guards /ops/*. Nil disables operator auth.
	OpsAuth middleware.JWTValidator

	// Registry backs /metrics.
	Registry *prometheus.Registry

	// Health checks run on /healthz, keyed by dependency name.
	Health map[string]HealthCheck

	Logger *slog.Logger
}

// NewRouter assembles the full HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", healthHandler(cfg.Health, cfg.Logger))
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	cfg.Clicks.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		cfg.Tokens.Register(r)
		cfg.Idempotency.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(cfg.OpsAuth, cfg.Logger))
		cfg.Ops.Register(r)
	})

	return r
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", "component", name, "error", err.Error())
				components[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}
		respondJSON(w, status, map[string]any{
			"status":     http.StatusText(status),
			"components": components,
		})
	}
}
