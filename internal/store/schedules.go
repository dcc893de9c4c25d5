package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/lead-fleet/internal/model"
)

const scheduleColumns = `id, bot_id, action, scheduled_at, status, executed_at, created_by, created_at`

func scanSchedule(row scanner) (*model.Schedule, error) {
	var (
		sc                     model.Schedule
		scheduledAt, createdAt int64
		executedAt             sql.NullInt64
	)
	err := row.Scan(&sc.ID, &sc.BotID, &sc.Action, &scheduledAt, &sc.Status, &executedAt, &sc.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	sc.ScheduledAt = fromMillis(scheduledAt)
	sc.ExecutedAt = timePtr(executedAt)
	sc.CreatedAt = fromMillis(createdAt)
	return &sc, nil
}

// CreateSchedule inserts a pending schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) error {
	if sc.ID == "" {
		sc.ID = uuid.Must(uuid.NewV7()).String()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	sc.Status = model.SchedulePending
	_, err := s.db.ExecContext(ctx, `
INSERT INTO schedules(id, bot_id, action, scheduled_at, status, created_by, created_at) VALUES(?,?,?,?,?,?,?)`,
		sc.ID, sc.BotID, sc.Action, toMillis(sc.ScheduledAt), sc.Status, sc.CreatedBy, toMillis(sc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return sc, nil
}

// ListSchedulesByBot returns a bot's schedules in firing order.
func (s *Store) ListSchedulesByBot(ctx context.Context, botID string) ([]model.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE bot_id = ? ORDER BY scheduled_at, id`, botID)
}

// DueSchedules returns pending schedules with scheduledAt at or before now, oldest first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	return s.querySchedules(ctx, `
SELECT `+scheduleColumns+` FROM schedules WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at, id`,
		model.SchedulePending, toMillis(now))
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	out := []model.Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// CompleteSchedule marks a pending schedule completed. It reports false when
// the row had already left pending.
func (s *Store) CompleteSchedule(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ?, executed_at = ? WHERE id = ? AND status = ?`,
		model.ScheduleCompleted, toMillis(at), id, model.SchedulePending)
	if err != nil {
		return false, fmt.Errorf("failed to complete schedule: %w", err)
	}
	return rowsAffected(res)
}

// CancelSchedule marks a pending schedule cancelled. It reports false when
// the row had already left pending.
func (s *Store) CancelSchedule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ? WHERE id = ? AND status = ?`,
		model.ScheduleCancelled, id, model.SchedulePending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel schedule: %w", err)
	}
	return rowsAffected(res)
}
