package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// CreateBotRequest is the request to register a bot.
type CreateBotRequest struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Prompt       string             `json:"prompt"`
	ChannelToken string             `json:"channel_token"`
	Enabled      bool               `json:"enabled"`
	Features     *model.BotFeatures `json:"features,omitempty"`
}

// FleetService handles bot configuration and the desired running state.
type FleetService struct {
	store    *store.Store
	runner   Runner
	notifier Notifier
	logger   *logger.Logger
}

// NewFleetService creates a new fleet service.
func NewFleetService(st *store.Store, runner Runner, log *logger.Logger) *FleetService {
	return &FleetService{
		store:    st,
		runner:   runner,
		notifier: nopNotifier{},
		logger:   log,
	}
}

// SetNotifier attaches the viewer hub.
func (s *FleetService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create validates and persists a new bot, starting it when enabled.
func (s *FleetService) Create(ctx context.Context, owner string, req *CreateBotRequest) (*model.BotConfig, error) {
	bot := &model.BotConfig{
		ID:           strings.TrimSpace(req.ID),
		Name:         strings.TrimSpace(req.Name),
		OwnerID:      owner,
		Prompt:       req.Prompt,
		Status:       model.BotDisabled,
		ChannelToken: strings.TrimSpace(req.ChannelToken),
		Features:     model.DefaultFeatures(),
	}
	if req.Enabled {
		bot.Status = model.BotEnabled
	}
	if req.Features != nil {
		bot.Features = *req.Features
	}
	if err := bot.Validate(); err != nil {
		return nil, err
	}
	if bot.ChannelToken == "" {
		return nil, fmt.Errorf("%w: missing channel_token", ErrInvalidConfig)
	}
	if err := bot.Features.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := s.store.CreateBot(ctx, bot); err != nil {
		return nil, err
	}
	s.logger.ForBot(bot.ID).Info("bot created", zap.String("owner", owner))

	if bot.Status == model.BotEnabled {
		if err := s.runner.Start(ctx, *bot); err != nil {
			s.logger.ForBot(bot.ID).Error("failed to start bot", zap.Error(err))
		}
	}
	s.notifier.Notify(model.NewEnvelope(model.EventBotCreated, bot.ID, s.View(bot)))
	return bot, nil
}

// Get returns a bot owned by owner.
func (s *FleetService) Get(ctx context.Context, owner, botID string) (*model.BotConfig, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.OwnerID != owner {
		return nil, fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}
	return bot, nil
}

// List returns owner's bots with runtime status.
func (s *FleetService) List(ctx context.Context, owner string) ([]model.BotView, error) {
	bots, err := s.store.ListBotsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.views(bots), nil
}

// Views returns every bot with runtime status, for viewer snapshots.
func (s *FleetService) Views(ctx context.Context) ([]model.BotView, error) {
	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(bots), nil
}

// ViewByID returns one bot's current view.
func (s *FleetService) ViewByID(ctx context.Context, botID string) (*model.BotView, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	v := s.View(bot)
	return &v, nil
}

func (s *FleetService) views(bots []model.BotConfig) []model.BotView {
	out := make([]model.BotView, 0, len(bots))
	for i := range bots {
		out = append(out, s.View(&bots[i]))
	}
	return out
}

// View derives the viewer representation of bot.
func (s *FleetService) View(bot *model.BotConfig) model.BotView {
	if bot.Status == model.BotDisabled && !s.runner.Running(bot.ID) {
		return bot.View(model.RuntimeDisabled, "")
	}
	status, qr := s.runner.RuntimeStatus(bot.ID)
	return bot.View(status, qr)
}

// UpdatePrompt replaces the prompt and restarts an enabled bot.
func (s *FleetService) UpdatePrompt(ctx context.Context, owner, botID, prompt string) (*model.BotConfig, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: missing prompt", ErrInvalidConfig)
	}
	if _, err := s.Get(ctx, owner, botID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBotPrompt(ctx, botID, prompt); err != nil {
		return nil, err
	}
	return s.afterEdit(ctx, botID, model.EventBotUpdated)
}

// UpdateFeatures replaces the feature flags and restarts an enabled bot.
func (s *FleetService) UpdateFeatures(ctx context.Context, owner, botID string, f model.BotFeatures) (*model.BotConfig, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.Get(ctx, owner, botID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBotFeatures(ctx, botID, f); err != nil {
		return nil, err
	}
	return s.afterEdit(ctx, botID, model.EventBotFeaturesUpdated)
}

func (s *FleetService) afterEdit(ctx context.Context, botID string, event model.EventType) (*model.BotConfig, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	// Enabled, not running: a crashed worker comes back with the new config.
	if bot.Status == model.BotEnabled {
		s.restart(botID)
	}

	var data any = s.View(bot)
	if event == model.EventBotFeaturesUpdated {
		data = model.FeaturesUpdated{BotID: botID, Features: bot.Features}
	}
	s.notifier.Notify(model.NewEnvelope(event, botID, data))
	return bot, nil
}

// restart runs asynchronously; the bot is offline for the restart delay.
func (s *FleetService) restart(botID string) {
	go func() {
		if err := s.runner.Restart(context.Background(), botID, s.loadEnabled); err != nil {
			s.logger.ForBot(botID).Error("restart failed", zap.Error(err))
		}
	}()
}

func (s *FleetService) loadEnabled(ctx context.Context, botID string) (model.BotConfig, bool, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return model.BotConfig{}, false, err
	}
	return *bot, bot.Status == model.BotEnabled, nil
}

// Enable persists enabled and starts the worker. Safe to repeat.
func (s *FleetService) Enable(ctx context.Context, botID string) error {
	if err := s.store.SetBotStatus(ctx, botID, model.BotEnabled); err != nil {
		return err
	}
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if err := s.runner.Start(ctx, *bot); err != nil {
		return err
	}
	s.logger.ForBot(botID).Info("bot enabled")
	s.notifier.Notify(model.NewEnvelope(model.EventBotUpdated, botID, s.View(bot)))
	return nil
}

// Disable persists disabled and stops the worker. Safe to repeat.
func (s *FleetService) Disable(ctx context.Context, botID string) error {
	if err := s.store.SetBotStatus(ctx, botID, model.BotDisabled); err != nil {
		return err
	}
	s.runner.Stop(botID)

	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	s.logger.ForBot(botID).Info("bot disabled")
	s.notifier.Notify(model.NewEnvelope(model.EventBotUpdated, botID, s.View(bot)))
	return nil
}

// SetEnabled enables or disables a bot owned by owner.
func (s *FleetService) SetEnabled(ctx context.Context, owner, botID string, enabled bool) (*model.BotView, error) {
	if _, err := s.Get(ctx, owner, botID); err != nil {
		return nil, err
	}
	var err error
	if enabled {
		err = s.Enable(ctx, botID)
	} else {
		err = s.Disable(ctx, botID)
	}
	if err != nil {
		return nil, err
	}
	return s.ViewByID(ctx, botID)
}

// Delete stops a bot and removes it with its schedules.
func (s *FleetService) Delete(ctx context.Context, owner, botID string) error {
	if _, err := s.Get(ctx, owner, botID); err != nil {
		return err
	}
	s.runner.Stop(botID)
	if err := s.store.DeleteBot(ctx, botID); err != nil {
		return err
	}
	s.logger.ForBot(botID).Info("bot deleted")
	s.notifier.Notify(model.NewEnvelope(model.EventBotDeleted, botID, model.BotDeleted{ID: botID}))
	return nil
}

// StartEnabled starts every bot persisted as enabled.
func (s *FleetService) StartEnabled(ctx context.Context) error {
	bots, err := s.store.ListBotsByStatus(ctx, model.BotEnabled)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if err := s.runner.Start(ctx, bot); err != nil {
			s.logger.ForBot(bot.ID).Error("failed to start bot", zap.Error(err))
		}
	}
	s.logger.Info("enabled bots started", zap.Int("count", len(bots)))
	return nil
}
