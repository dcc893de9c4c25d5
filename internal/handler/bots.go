// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/lead-fleet/internal/middleware"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// BotHandler handles bot configuration endpoints.
type BotHandler struct {
	fleet  *service.FleetService
	logger *logger.Logger
}

// NewBotHandler creates a new bot handler.
func NewBotHandler(fleet *service.FleetService, log *logger.Logger) *BotHandler {
	return &BotHandler{
		fleet:  fleet,
		logger: log,
	}
}

// Create handles POST /api/v1/bots
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.CreateBotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateBotID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidatePrompt(req.Prompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot, err := h.fleet.Create(ctx, middleware.GetEmail(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "create bot")
		return
	}

	writeJSON(w, http.StatusCreated, h.fleet.View(bot))
}

// List handles GET /api/v1/bots
func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bots, err := h.fleet.List(ctx, middleware.GetEmail(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list bots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bots": bots,
	})
}

// Get handles GET /api/v1/bots/{id}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bot, err := h.fleet.Get(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get bot")
		return
	}

	writeJSON(w, http.StatusOK, h.fleet.View(bot))
}

// UpdatePrompt handles PATCH /api/v1/bots/{id}/prompt
func (h *BotHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidatePrompt(req.Prompt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot, err := h.fleet.UpdatePrompt(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"), req.Prompt)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update prompt")
		return
	}

	writeJSON(w, http.StatusOK, h.fleet.View(bot))
}

// Enable handles POST /api/v1/bots/{id}/enable
func (h *BotHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /api/v1/bots/{id}/disable
func (h *BotHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *BotHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()

	view, err := h.fleet.SetEnabled(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"), enabled)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "change bot status")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /api/v1/bots/{id}
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.fleet.Delete(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err, "delete bot")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetFeatures handles GET /api/v1/bots/{id}/features
func (h *BotHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bot, err := h.fleet.Get(ctx, middleware.GetEmail(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get features")
		return
	}

	writeJSON(w, http.StatusOK, bot.Features)
}

// UpdateFeatures handles PATCH /api/v1/bots/{id}/features. Fields absent
// from the body keep their current value.
func (h *BotHandler) UpdateFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := middleware.GetEmail(ctx)
	botID := chi.URLParam(r, "id")

	bot, err := h.fleet.Get(ctx, owner, botID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update features")
		return
	}

	features := bot.Features
	if !decodeJSON(w, r, &features) {
		return
	}

	bot, err = h.fleet.UpdateFeatures(ctx, owner, botID, features)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "update features")
		return
	}

	writeJSON(w, http.StatusOK, bot.Features)
}
