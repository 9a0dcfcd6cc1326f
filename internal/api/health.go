package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/flowchat/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports readiness of the server's dependencies.
type HealthHandler struct {
	repo       store.Repository
	configured bool
	logger     *slog.Logger
}

// NewHealthHandler creates a new health handler. configured reports whether
// the remote API key is set.
func NewHealthHandler(repo store.Repository, configured bool, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{repo: repo, configured: configured, logger: logger}
}

// Health returns the health status of the API and its dependencies. A
// missing API key is reported but does not make the server unhealthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "remote_api_key": "ok"}
	status := map[string]interface{}{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if !h.configured {
		checks["remote_api_key"] = "missing"
	}

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
