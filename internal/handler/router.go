package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/lead-fleet/internal/auth"
	"github.com/capitalize-ai/lead-fleet/internal/middleware"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// Handlers groups the API handlers. Events is nil when the audit log is
// not configured.
type Handlers struct {
	Health    *HealthHandler
	Bots      *BotHandler
	Schedules *ScheduleHandler
	Leads     *LeadHandler
	Events    *EventHandler
	WS        *WSHandler
}

// RouterOptions configures authentication and rate limiting.
type RouterOptions struct {
	Issuer            *auth.Issuer
	Roles             auth.RoleResolver
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(opts.Issuer, opts.Roles, opts.Logger))
		r.Use(middleware.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))

		// Fleet administration
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))

			r.Route("/bots", func(r chi.Router) {
				r.Post("/", h.Bots.Create)
				r.Get("/", h.Bots.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Bots.Get)
					r.Delete("/", h.Bots.Delete)
					r.Patch("/prompt", h.Bots.UpdatePrompt)
					r.Post("/enable", h.Bots.Enable)
					r.Post("/disable", h.Bots.Disable)
					r.Get("/features", h.Bots.GetFeatures)
					r.Patch("/features", h.Bots.UpdateFeatures)
					r.Post("/schedules", h.Schedules.Create)
					r.Get("/schedules", h.Schedules.List)
					if h.Events != nil {
						r.Get("/events", h.Events.List)
					}
				})
			})

			r.Delete("/schedules/{id}", h.Schedules.Cancel)
		})

		// Operator console
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleOperator))

			r.Get("/leads/qualified", h.Leads.Qualified)
			r.Get("/leads/assigned", h.Leads.Assigned)
			r.Get("/leads/{id}", h.Leads.Get)
			r.Get("/leads/{id}/messages", h.Leads.Messages)
			r.Post("/leads/{id}/messages", h.Leads.Send)
			r.Post("/leads/{id}/assign", h.Leads.Assign)
			r.Get("/ws", h.WS.Serve)
		})
	})

	return r
}
