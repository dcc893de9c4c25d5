package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/scheduler"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// fakeFleet persists status like the fleet service and tracks running bots.
type fakeFleet struct {
	store *store.Store
	fail  error

	mu      sync.Mutex
	running map[string]int
}

func (f *fakeFleet) Enable(ctx context.Context, botID string) error {
	if f.fail != nil {
		return f.fail
	}
	if err := f.store.SetBotStatus(ctx, botID, model.BotEnabled); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[botID] = 1
	return nil
}

func (f *fakeFleet) Disable(ctx context.Context, botID string) error {
	if f.fail != nil {
		return f.fail
	}
	if err := f.store.SetBotStatus(ctx, botID, model.BotDisabled); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, botID)
	return nil
}

type recorder struct {
	mu   sync.Mutex
	envs []model.Envelope
}

func (r *recorder) Notify(env model.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func setup(t *testing.T) (*store.Store, *fakeFleet, *recorder, *scheduler.Executor) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bot := &model.BotConfig{ID: "b1", Name: "Ventas", OwnerID: "o", Prompt: "p", Status: model.BotDisabled, Features: model.DefaultFeatures()}
	if err := s.CreateBot(context.Background(), bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}

	fleet := &fakeFleet{store: s, running: map[string]int{}}
	rec := &recorder{}
	return s, fleet, rec, scheduler.New(s, fleet, rec, time.Minute, logger.NewNop())
}

func TestPastEnableScheduleCompletes(t *testing.T) {
	ctx := context.Background()
	s, fleet, rec, exec := setup(t)

	sc := &model.Schedule{BotID: "b1", Action: model.ActionEnable, ScheduledAt: time.Now().Add(-time.Minute), CreatedBy: "admin@x.com"}
	if err := s.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	if n := exec.RunOnce(ctx); n != 1 {
		t.Fatalf("RunOnce() = %d, want 1", n)
	}
	got, err := s.GetSchedule(ctx, sc.ID)
	if err != nil || got.Status != model.ScheduleCompleted || got.ExecutedAt == nil {
		t.Fatalf("schedule = %+v, %v", got, err)
	}
	bot, err := s.GetBot(ctx, "b1")
	if err != nil || bot.Status != model.BotEnabled {
		t.Errorf("bot status = %v, %v; want enabled", bot, err)
	}
	if fleet.running["b1"] != 1 {
		t.Errorf("bot not running after enable")
	}
	if len(rec.envs) != 1 || rec.envs[0].Type != model.EventScheduleExecuted {
		t.Errorf("notifications = %+v", rec.envs)
	}

	// completed rows never fire again
	if n := exec.RunOnce(ctx); n != 0 {
		t.Errorf("second RunOnce() = %d, want 0", n)
	}
}

func TestFutureAndCancelledSchedulesAreSkipped(t *testing.T) {
	ctx := context.Background()
	s, _, _, exec := setup(t)

	future := &model.Schedule{BotID: "b1", Action: model.ActionEnable, ScheduledAt: time.Now().Add(time.Hour), CreatedBy: "a"}
	cancelled := &model.Schedule{BotID: "b1", Action: model.ActionEnable, ScheduledAt: time.Now().Add(-time.Hour), CreatedBy: "a"}
	for _, sc := range []*model.Schedule{future, cancelled} {
		if err := s.CreateSchedule(ctx, sc); err != nil {
			t.Fatalf("CreateSchedule() error = %v", err)
		}
	}
	if _, err := s.CancelSchedule(ctx, cancelled.ID); err != nil {
		t.Fatalf("CancelSchedule() error = %v", err)
	}

	if n := exec.RunOnce(ctx); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
	bot, _ := s.GetBot(ctx, "b1")
	if bot.Status != model.BotDisabled {
		t.Errorf("bot status = %s, want disabled", bot.Status)
	}
}

func TestFailedActionStaysPending(t *testing.T) {
	ctx := context.Background()
	s, fleet, _, exec := setup(t)
	fleet.fail = errors.New("store busy")

	sc := &model.Schedule{BotID: "b1", Action: model.ActionDisable, ScheduledAt: time.Now().Add(-time.Second), CreatedBy: "a"}
	if err := s.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if n := exec.RunOnce(ctx); n != 0 {
		t.Errorf("RunOnce() = %d, want 0", n)
	}
	got, _ := s.GetSchedule(ctx, sc.ID)
	if got.Status != model.SchedulePending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	fleet.fail = nil
	if n := exec.RunOnce(ctx); n != 1 {
		t.Errorf("retry RunOnce() = %d, want 1", n)
	}
}

func TestMissingBotRetiresSchedule(t *testing.T) {
	ctx := context.Background()
	s, fleet, _, exec := setup(t)
	fleet.fail = fmt.Errorf("bot b1: %w", store.ErrNotFound)

	sc := &model.Schedule{BotID: "b1", Action: model.ActionEnable, ScheduledAt: time.Now().Add(-time.Second), CreatedBy: "a"}
	if err := s.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if n := exec.RunOnce(ctx); n != 1 {
		t.Errorf("RunOnce() = %d, want 1", n)
	}
	got, _ := s.GetSchedule(ctx, sc.ID)
	if got.Status != model.ScheduleCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	s, _, _, exec := setup(t)
	sc := &model.Schedule{BotID: "b1", Action: model.ActionEnable, ScheduledAt: time.Now().Add(-time.Second), CreatedBy: "a"}
	if err := s.CreateSchedule(context.Background(), sc); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := s.GetSchedule(context.Background(), sc.ID)
		if got != nil && got.Status == model.ScheduleCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	got, _ := s.GetSchedule(context.Background(), sc.ID)
	if got.Status != model.ScheduleCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
