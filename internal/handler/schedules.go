package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/lead-fleet/internal/middleware"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// ScheduleHandler handles scheduled fleet actions.
type ScheduleHandler struct {
	schedules *service.ScheduleService
	logger    *logger.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(schedules *service.ScheduleService, log *logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		logger:    log,
	}
}

// Create handles POST /api/v1/bots/{id}/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.CreateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sc, err := h.schedules.Create(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, sc)
}

// List handles GET /api/v1/bots/{id}/schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	schedules, err := h.schedules.ListByBot(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list schedules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
	})
}

// Cancel handles DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scheduleID := chi.URLParam(r, "id")

	if err := middleware.ValidateScheduleID(scheduleID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.schedules.Cancel(ctx, middleware.GetEmail(ctx), scheduleID); err != nil {
		writeServiceError(w, r, h.logger, err, "cancel schedule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
