package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"historical/internal/health"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	HealthChecker  *health.Checker
	MetricsHandler http.Handler // optional
	Logger         *slog.Logger // default: slog.Default()
}

// NewRouter creates the status server routes: probes, the current job snapshot
// and the Prometheus endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "status")
	handler := NewHandler(cfg.HealthChecker)

	r := chi.NewRouter()
	// order matters: outermost first
	r.Use(RecoveryMiddleware(logger), LoggingMiddleware(logger))

	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)
	r.Get("/v1/job", handler.GetJob)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}
	return r
}
