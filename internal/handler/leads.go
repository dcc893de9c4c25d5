package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/lead-fleet/internal/middleware"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// LeadHandler handles operator lead endpoints.
type LeadHandler struct {
	leads  *service.LeadService
	logger *logger.Logger
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(leads *service.LeadService, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		leads:  leads,
		logger: log,
	}
}

// Qualified handles GET /api/v1/leads/qualified
func (h *LeadHandler) Qualified(w http.ResponseWriter, r *http.Request) {
	leads, err := h.leads.ListQualified(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list qualified leads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads": nonNil(leads),
	})
}

// Assigned handles GET /api/v1/leads/assigned
func (h *LeadHandler) Assigned(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	leads, err := h.leads.ListAssigned(ctx, middleware.GetEmail(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "list assigned leads")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads": nonNil(leads),
	})
}

// Get handles GET /api/v1/leads/{id}
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")
	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.leads.Get(r.Context(), leadID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get lead")
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// Messages handles GET /api/v1/leads/{id}/messages
func (h *LeadHandler) Messages(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")
	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := h.leads.History(r.Context(), leadID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "get lead history")
		return
	}

	writeJSON(w, http.StatusOK, hist)
}

// Assign handles POST /api/v1/leads/{id}/assign. The assignee defaults to
// the caller.
func (h *LeadHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "id")
	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Assignee string `json:"assignee"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Assignee) == "" {
		req.Assignee = middleware.GetEmail(ctx)
	}

	lead, err := h.leads.Assign(ctx, leadID, req.Assignee)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "assign lead")
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// Send handles POST /api/v1/leads/{id}/messages
func (h *LeadHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	leadID := chi.URLParam(r, "id")
	if err := middleware.ValidateLeadID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sent, err := h.leads.SendOperatorMessage(ctx, leadID, middleware.GetEmail(ctx), req.Text)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "send message")
		return
	}

	writeJSON(w, http.StatusAccepted, sent)
}

func nonNil(leads []model.Lead) []model.Lead {
	if leads == nil {
		return []model.Lead{}
	}
	return leads
}
