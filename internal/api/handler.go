// Package api serves the run status endpoints next to the metrics endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"historical/internal/health"
)

// Handler contains the status HTTP handlers.
type Handler struct {
	health *health.Checker
}

// NewHandler creates a new status handler.
func NewHandler(healthChecker *health.Checker) *Handler {
	return &Handler{health: healthChecker}
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 once the job failed or the run is shutting down. A degraded run
// still answers 200.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if response.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// GetJob handles GET /v1/job - the last observed state of the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Snapshot())
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
