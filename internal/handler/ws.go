package handler

import (
	"net/http"

	"github.com/capitalize-ai/lead-fleet/internal/hub"
	"github.com/capitalize-ai/lead-fleet/internal/middleware"
)

// WSHandler attaches authenticated viewers to the hub.
type WSHandler struct {
	hub *hub.Hub
}

// NewWSHandler creates a new viewer channel handler.
func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// Serve handles GET /api/v1/ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r, middleware.GetEmail(r.Context()))
}
