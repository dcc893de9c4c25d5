package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/lead-fleet/internal/middleware"
	natsclient "github.com/capitalize-ai/lead-fleet/internal/nats"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// AuditReader reads a bot's audited events.
type AuditReader interface {
	History(ctx context.Context, botID string, afterSequence uint64, limit int) ([]natsclient.Record, uint64, bool, error)
}

// EventHandler serves the fleet audit log.
type EventHandler struct {
	audit  AuditReader
	fleet  *service.FleetService
	logger *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(audit AuditReader, fleet *service.FleetService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		audit:  audit,
		fleet:  fleet,
		logger: log,
	}
}

// List handles GET /api/v1/bots/{id}/events
// Supports ?after_sequence=N&limit=M for paging.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	botID := chi.URLParam(r, "id")

	if _, err := h.fleet.Get(ctx, middleware.GetEmail(ctx), botID); err != nil {
		writeServiceError(w, r, h.logger, err, "list events")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	var after uint64
	if s := r.URL.Query().Get("after_sequence"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		after = parsed
	}

	records, last, hasMore, err := h.audit.History(ctx, botID, after, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list events")
		return
	}
	if records == nil {
		records = []natsclient.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":        records,
		"last_sequence": last,
		"has_more":      hasMore,
	})
}
