// Package scheduler executes due schedule rows against the fleet on a fixed
// polling interval. Execution is at-least-once; fleet actions are idempotent.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
	"github.com/capitalize-ai/lead-fleet/pkg/metrics"
	"github.com/capitalize-ai/lead-fleet/pkg/tracing"
)

var errUnknownAction = errors.New("unknown schedule action")

// Store is the schedule persistence the executor needs.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error)
	CompleteSchedule(ctx context.Context, id string, at time.Time) (bool, error)
}

// Fleet applies enable and disable actions.
type Fleet interface {
	Enable(ctx context.Context, botID string) error
	Disable(ctx context.Context, botID string) error
}

// Notifier receives viewer envelopes.
type Notifier interface {
	Notify(env model.Envelope)
}

// Executor polls for due schedules.
type Executor struct {
	store    Store
	fleet    Fleet
	notifier Notifier
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// New creates an executor. notifier may be nil.
func New(store Store, fleet Fleet, notifier Notifier, interval time.Duration, log *logger.Logger) *Executor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Executor{
		store:    store,
		fleet:    fleet,
		notifier: notifier,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Start runs one poll immediately and then one per interval until ctx is done.
func (e *Executor) Start(ctx context.Context) {
	e.log.Info("scheduler started", zap.Duration("interval", e.interval))
	e.RunOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.RunOnce(ctx)
		case <-ctx.Done():
			e.log.Info("scheduler stopped")
			return
		}
	}
}

// RunOnce executes every due schedule and returns how many completed.
func (e *Executor) RunOnce(ctx context.Context) int {
	ctx, span := tracing.Tracer("scheduler").Start(ctx, "scheduler.poll")
	defer span.End()

	now := e.now()
	due, err := e.store.DueSchedules(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "due query failed")
		e.log.Error("failed to load due schedules", zap.Error(err))
		return 0
	}
	span.SetAttributes(attribute.Int("schedules.due", len(due)))
	if len(due) > 0 {
		e.log.Info("executing due schedules", zap.Int("count", len(due)))
	}

	completed := 0
	for _, sc := range due {
		if e.execute(ctx, sc) {
			completed++
		}
	}
	return completed
}

func (e *Executor) execute(ctx context.Context, sc model.Schedule) bool {
	log := e.log.ForBot(sc.BotID).With(zap.String("schedule_id", sc.ID), zap.String("action", string(sc.Action)))

	err := e.apply(ctx, sc)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errUnknownAction):
		// Nothing left to apply; retire the row.
		log.Warn("schedule cannot be applied, retiring", zap.Error(err))
	default:
		metrics.SchedulesExecutedTotal.WithLabelValues(string(sc.Action), "error").Inc()
		log.Error("schedule action failed, will retry", zap.Error(err))
		return false
	}

	ok, err := e.store.CompleteSchedule(ctx, sc.ID, e.now())
	if err != nil {
		metrics.SchedulesExecutedTotal.WithLabelValues(string(sc.Action), "error").Inc()
		log.Error("failed to mark schedule completed", zap.Error(err))
		return false
	}
	if !ok {
		// Cancelled or completed concurrently.
		log.Info("schedule already left pending")
		return false
	}

	metrics.SchedulesExecutedTotal.WithLabelValues(string(sc.Action), "ok").Inc()
	log.Info("schedule executed")
	if e.notifier != nil {
		e.notifier.Notify(model.NewEnvelope(model.EventScheduleExecuted, sc.BotID, model.ScheduleExecuted{
			ScheduleID: sc.ID, BotID: sc.BotID, Action: sc.Action,
		}))
	}
	return true
}

func (e *Executor) apply(ctx context.Context, sc model.Schedule) error {
	switch sc.Action {
	case model.ActionEnable:
		return e.fleet.Enable(ctx, sc.BotID)
	case model.ActionDisable:
		return e.fleet.Disable(ctx, sc.BotID)
	}
	return errUnknownAction
}
