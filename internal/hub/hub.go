// Package hub fans fleet events out to connected viewers and handles their
// commands.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

const (
	sendBuffer      = 256
	broadcastBuffer = 256
	auditBuffer     = 1024
	auditTimeout    = 5 * time.Second
	snapshotTimeout = 10 * time.Second
)

// Fleet provides bot views for snapshots and status updates.
type Fleet interface {
	Views(ctx context.Context) ([]model.BotView, error)
	ViewByID(ctx context.Context, botID string) (*model.BotView, error)
}

// Leads serves viewer commands.
type Leads interface {
	ListQualified(ctx context.Context) ([]model.Lead, error)
	History(ctx context.Context, leadID string) (*model.LeadHistory, error)
	Assign(ctx context.Context, leadID, operator string) (*model.Lead, error)
	SendOperatorMessage(ctx context.Context, leadID, operator, text string) (*model.MessageSent, error)
}

// Audit appends envelopes to a durable log.
type Audit interface {
	PublishEvent(ctx context.Context, env model.Envelope) (uint64, error)
}

// Hub manages viewer connections.
type Hub struct {
	fleet  Fleet
	leads  Leads
	audit  Audit
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan model.Envelope
	audits     chan model.Envelope
	done       chan struct{}
}

// New creates a hub. audit may be nil.
func New(fleet Fleet, leads Leads, audit Audit, log *logger.Logger) *Hub {
	return &Hub{
		fleet:      fleet,
		leads:      leads,
		audit:      audit,
		logger:     log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan model.Envelope, broadcastBuffer),
		audits:     make(chan model.Envelope, auditBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled; write
// pumps observe done and close their connections.
func (h *Hub) Run(ctx context.Context) {
	if h.audit != nil {
		go h.auditLoop(ctx)
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				metrics.DecrementViewers()
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.attach(ctx, c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.DecrementViewers()
				h.logger.Info("viewer disconnected", zap.String("viewer", c.email))
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				h.logger.Error("failed to marshal envelope", zap.String("type", string(env.Type)), zap.Error(err))
				continue
			}
			metrics.BroadcastsTotal.WithLabelValues(string(env.Type)).Inc()
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("viewer buffer full, dropping event",
						zap.String("viewer", c.email), zap.String("type", string(env.Type)))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// attach queues the snapshot and registers the viewer in one step of the run
// loop, so every broadcast after the snapshot reaches the viewer.
func (h *Hub) attach(ctx context.Context, c *Client) {
	sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	snap, err := h.snapshot(sctx)
	cancel()
	if err != nil {
		h.logger.Error("failed to build snapshot", zap.String("viewer", c.email), zap.Error(err))
		snap = errorEnvelope(err)
	}
	c.queue(snap)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.IncrementViewers()
	h.logger.Info("viewer connected", zap.String("viewer", c.email))
}

// Notify broadcasts env to every viewer and appends it to the audit log.
func (h *Hub) Notify(env model.Envelope) {
	if h.audit != nil && env.BotID != "" {
		select {
		case h.audits <- env:
		default:
			h.logger.Warn("audit queue full, dropping event", zap.String("type", string(env.Type)))
		}
	}
	select {
	case h.broadcast <- env:
	case <-h.done:
	}
}

func (h *Hub) auditLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.audits:
			pctx, cancel := context.WithTimeout(ctx, auditTimeout)
			if _, err := h.audit.PublishEvent(pctx, env); err != nil {
				h.logger.Warn("failed to audit event",
					zap.String("bot_id", env.BotID), zap.String("type", string(env.Type)), zap.Error(err))
			}
			cancel()
		}
	}
}

// Consume translates supervisor events into viewer envelopes until ctx is
// cancelled or events closes.
func (h *Hub) Consume(ctx context.Context, events <-chan supervisor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev supervisor.Event) {
	switch e := ev.(type) {
	case supervisor.QRReady, supervisor.Connected, supervisor.Disconnected:
		view, err := h.fleet.ViewByID(ctx, ev.Bot())
		if err != nil {
			if !errors.Is(err, service.ErrNotFound) {
				h.logger.ForBot(ev.Bot()).Error("failed to load bot view", zap.Error(err))
			}
			return
		}
		h.Notify(model.NewEnvelope(model.EventBotUpdated, ev.Bot(), view))
	case supervisor.LeadQualified:
		h.Notify(model.NewEnvelope(model.EventLeadQualified, e.BotID, e.Lead))
	case supervisor.MessageForOperator:
		h.Notify(model.NewEnvelope(model.EventMessageForOperator, e.BotID, model.OperatorMessage{
			LeadID:    e.LeadID,
			BotID:     e.BotID,
			From:      e.FromAddress,
			Text:      e.Text,
			Timestamp: time.Now().UTC(),
		}))
	default:
		h.logger.Warn("unhandled fleet event", zap.String("bot_id", ev.Bot()))
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot(ctx context.Context) (model.Envelope, error) {
	bots, err := h.fleet.Views(ctx)
	if err != nil {
		return model.Envelope{}, err
	}
	leads, err := h.leads.ListQualified(ctx)
	if err != nil {
		return model.Envelope{}, err
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	return model.NewEnvelope(model.EventSnapshot, "", model.Snapshot{Bots: bots, QualifiedLeads: leads}), nil
}
