package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// CreateScheduleRequest is the request to schedule a fleet action.
type CreateScheduleRequest struct {
	Action      model.ScheduleAction `json:"action"`
	ScheduledAt time.Time            `json:"scheduled_at"`
}

// ScheduleService handles schedule rows for owned bots.
type ScheduleService struct {
	store    *store.Store
	fleet    *FleetService
	notifier Notifier
	logger   *logger.Logger
}

// NewScheduleService creates a new schedule service.
func NewScheduleService(st *store.Store, fleet *FleetService, log *logger.Logger) *ScheduleService {
	return &ScheduleService{
		store:    st,
		fleet:    fleet,
		notifier: nopNotifier{},
		logger:   log,
	}
}

// SetNotifier attaches the viewer hub.
func (s *ScheduleService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create queues an action for an owned bot with scheduling enabled.
func (s *ScheduleService) Create(ctx context.Context, owner, botID string, req *CreateScheduleRequest) (*model.Schedule, error) {
	bot, err := s.fleet.Get(ctx, owner, botID)
	if err != nil {
		return nil, err
	}
	if !bot.Features.SchedulingEnabled {
		return nil, fmt.Errorf("%w: scheduling is not enabled for bot %s", ErrForbidden, botID)
	}
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: action must be enable or disable", ErrInvalidInput)
	}
	if req.ScheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: missing scheduled_at", ErrInvalidInput)
	}

	sc := &model.Schedule{
		BotID:       botID,
		Action:      req.Action,
		ScheduledAt: req.ScheduledAt.UTC(),
		CreatedBy:   owner,
	}
	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return nil, err
	}
	s.logger.ForBot(botID).Info("schedule created",
		zap.String("schedule_id", sc.ID),
		zap.String("action", string(sc.Action)),
		zap.Time("scheduled_at", sc.ScheduledAt),
	)
	s.notifier.Notify(model.NewEnvelope(model.EventScheduleCreated, botID, sc))
	return sc, nil
}

// ListByBot returns an owned bot's schedules.
func (s *ScheduleService) ListByBot(ctx context.Context, owner, botID string) ([]model.Schedule, error) {
	if _, err := s.fleet.Get(ctx, owner, botID); err != nil {
		return nil, err
	}
	return s.store.ListSchedulesByBot(ctx, botID)
}

// Cancel cancels a pending schedule. Rows that already left pending are
// reported as a conflict and left unchanged.
func (s *ScheduleService) Cancel(ctx context.Context, owner, scheduleID string) error {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if _, err := s.fleet.Get(ctx, owner, sc.BotID); err != nil {
		return fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}

	ok, err := s.store.CancelSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("schedule %s is no longer pending: %w", scheduleID, ErrConflict)
	}
	s.logger.ForBot(sc.BotID).Info("schedule cancelled", zap.String("schedule_id", scheduleID))
	s.notifier.Notify(model.NewEnvelope(model.EventScheduleCancelled, sc.BotID, model.ScheduleCancelledEvent{
		ScheduleID: scheduleID, BotID: sc.BotID,
	}))
	return nil
}
