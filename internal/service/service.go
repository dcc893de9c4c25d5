// Package service provides business logic for the bot fleet.
package service

import (
	"context"
	"errors"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
)

var (
	ErrInvalidConfig     = model.ErrInvalidConfig
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrNotFound          = store.ErrNotFound
	ErrConflict          = store.ErrConflict
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
)

// Runner is the worker process table.
type Runner interface {
	Start(ctx context.Context, bot model.BotConfig) error
	Stop(botID string)
	Restart(ctx context.Context, botID string, load supervisor.Loader) error
	Send(botID, targetAddress, text string) error
	Running(botID string) bool
	RuntimeStatus(botID string) (model.RuntimeStatus, string)
}

// Notifier fans envelopes out to viewers.
type Notifier interface {
	Notify(env model.Envelope)
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.Envelope) {}
