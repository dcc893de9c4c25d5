package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/lead-fleet/internal/nats"
)

// Pinger reports store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store Pinger
	audit *natsclient.AuditLog
}

// NewHealthHandler creates a new health handler. audit is nil when the
// audit log is not configured.
func NewHealthHandler(store Pinger, audit *natsclient.AuditLog) *HealthHandler {
	return &HealthHandler{
		store: store,
		audit: audit,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}

	if h.audit != nil && !h.audit.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "audit log not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
