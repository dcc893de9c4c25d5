package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
)

// LeadService handles operator actions on leads.
type LeadService struct {
	store    *store.Store
	runner   Runner
	notifier Notifier
	logger   *logger.Logger
}

// NewLeadService creates a new lead service.
func NewLeadService(st *store.Store, runner Runner, log *logger.Logger) *LeadService {
	return &LeadService{
		store:    st,
		runner:   runner,
		notifier: nopNotifier{},
		logger:   log,
	}
}

// SetNotifier attaches the viewer hub.
func (s *LeadService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ListQualified returns the queue of leads waiting for an operator.
func (s *LeadService) ListQualified(ctx context.Context) ([]model.Lead, error) {
	return s.store.ListLeadsByStatus(ctx, model.LeadQualified)
}

// ListAssigned returns the leads assigned to operator.
func (s *LeadService) ListAssigned(ctx context.Context, operator string) ([]model.Lead, error) {
	return s.store.ListLeadsByAssignee(ctx, operator)
}

// Get returns a lead.
func (s *LeadService) Get(ctx context.Context, leadID string) (*model.Lead, error) {
	return s.store.GetLead(ctx, leadID)
}

// History returns a lead with its full message log.
func (s *LeadService) History(ctx context.Context, leadID string) (*model.LeadHistory, error) {
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return &model.LeadHistory{LeadID: leadID, Lead: l, Messages: msgs}, nil
}

// Assign hands a qualified lead to operator and broadcasts the result.
func (s *LeadService) Assign(ctx context.Context, leadID, operator string) (*model.Lead, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, fmt.Errorf("%w: missing assignee", ErrInvalidInput)
	}
	l, err := s.store.AssignLead(ctx, leadID, operator)
	if err != nil {
		return nil, err
	}
	metrics.LeadTransitionsTotal.WithLabelValues(string(model.LeadAssigned)).Inc()
	s.logger.ForBot(l.BotID).Info("lead assigned", zap.String("lead_id", l.ID), zap.String("operator", operator))

	s.notifier.Notify(model.NewEnvelope(model.EventLeadAssigned, l.BotID, l))
	return l, nil
}

// SendOperatorMessage records an operator message and forwards it to the
// lead's conversation through the bot's worker.
func (s *LeadService) SendOperatorMessage(ctx context.Context, leadID, operator, text string) (*model.MessageSent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	l, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !s.runner.Running(l.BotID) {
		return nil, fmt.Errorf("bot %s: %w", l.BotID, supervisor.ErrWorkerNotRunning)
	}

	now := time.Now().UTC()
	msg := &model.LeadMessage{LeadID: l.ID, Sender: operator, Text: text, Timestamp: now}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.TouchLead(ctx, l.ID, now); err != nil {
		s.logger.Warn("failed to touch lead", zap.String("lead_id", l.ID), zap.Error(err))
	}
	if err := s.runner.Send(l.BotID, l.ExternalAddress, text); err != nil {
		return nil, err
	}

	sent := &model.MessageSent{LeadID: l.ID, Sender: operator, Text: text, Timestamp: now}
	s.notifier.Notify(model.NewEnvelope(model.EventMessageSent, l.BotID, sent))
	return sent, nil
}
