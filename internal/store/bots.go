package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/model"
)

const botColumns = `b.id, b.name, b.owner_id, b.prompt, b.status, b.channel_token, b.created_at,
    COALESCE(f.scheduling_enabled, 0), COALESCE(f.auto_response_enabled, 1),
    COALESCE(f.lead_capture_enabled, 1), COALESCE(f.working_hours_enabled, 0),
    COALESCE(f.working_hours_start, '09:00'), COALESCE(f.working_hours_end, '18:00')`

const botFrom = ` FROM bots b LEFT JOIN bot_features f ON f.bot_id = b.id`

func scanBot(row scanner) (*model.BotConfig, error) {
	var (
		b         model.BotConfig
		createdAt int64
		f         model.BotFeatures
	)
	err := row.Scan(&b.ID, &b.Name, &b.OwnerID, &b.Prompt, &b.Status, &b.ChannelToken, &createdAt,
		&f.SchedulingEnabled, &f.AutoResponseEnabled, &f.LeadCaptureEnabled, &f.WorkingHoursEnabled,
		&f.WorkingHoursStart, &f.WorkingHoursEnd)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = fromMillis(createdAt)
	b.Features = f
	return &b, nil
}

// CreateBot inserts a bot and its feature row.
func (s *Store) CreateBot(ctx context.Context, b *model.BotConfig) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bots(id, name, owner_id, prompt, status, channel_token, created_at) VALUES(?,?,?,?,?,?,?)`,
		b.ID, b.Name, b.OwnerID, b.Prompt, b.Status, b.ChannelToken, toMillis(b.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bot %s: %w", b.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert bot: %w", err)
	}
	if err := upsertFeatures(ctx, tx, b.ID, b.Features); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertFeatures(ctx context.Context, db execer, botID string, f model.BotFeatures) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO bot_features(bot_id, scheduling_enabled, auto_response_enabled, lead_capture_enabled,
    working_hours_enabled, working_hours_start, working_hours_end)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(bot_id) DO UPDATE SET
    scheduling_enabled = excluded.scheduling_enabled,
    auto_response_enabled = excluded.auto_response_enabled,
    lead_capture_enabled = excluded.lead_capture_enabled,
    working_hours_enabled = excluded.working_hours_enabled,
    working_hours_start = excluded.working_hours_start,
    working_hours_end = excluded.working_hours_end`,
		botID, boolInt(f.SchedulingEnabled), boolInt(f.AutoResponseEnabled), boolInt(f.LeadCaptureEnabled),
		boolInt(f.WorkingHoursEnabled), f.WorkingHoursStart, f.WorkingHoursEnd)
	if err != nil {
		return fmt.Errorf("failed to save bot features: %w", err)
	}
	return nil
}

// GetBot returns a bot by id.
func (s *Store) GetBot(ctx context.Context, id string) (*model.BotConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+botFrom+` WHERE b.id = ?`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return b, nil
}

// ListBots returns every bot ordered by creation time.
func (s *Store) ListBots(ctx context.Context) ([]model.BotConfig, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+botFrom+` ORDER BY b.created_at, b.id`)
}

// ListBotsByOwner returns the bots owned by ownerID.
func (s *Store) ListBotsByOwner(ctx context.Context, ownerID string) ([]model.BotConfig, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+botFrom+` WHERE b.owner_id = ? ORDER BY b.created_at, b.id`, ownerID)
}

// ListBotsByStatus returns bots with the given persisted status.
func (s *Store) ListBotsByStatus(ctx context.Context, status model.BotStatus) ([]model.BotConfig, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+botFrom+` WHERE b.status = ? ORDER BY b.created_at, b.id`, status)
}

func (s *Store) queryBots(ctx context.Context, query string, args ...any) ([]model.BotConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []model.BotConfig
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

func (s *Store) updateBot(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update bot: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bot %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateBotPrompt replaces a bot's prompt.
func (s *Store) UpdateBotPrompt(ctx context.Context, id, prompt string) error {
	return s.updateBot(ctx, id, `UPDATE bots SET prompt = ? WHERE id = ?`, prompt, id)
}

// SetBotStatus persists a bot's desired status.
func (s *Store) SetBotStatus(ctx context.Context, id string, status model.BotStatus) error {
	return s.updateBot(ctx, id, `UPDATE bots SET status = ? WHERE id = ?`, status, id)
}

// UpdateBotFeatures replaces a bot's feature flags.
func (s *Store) UpdateBotFeatures(ctx context.Context, id string, f model.BotFeatures) error {
	if _, err := s.GetBot(ctx, id); err != nil {
		return err
	}
	return upsertFeatures(ctx, s.db, id, f)
}

// DeleteBot removes a bot; its features and schedules cascade. Leads are kept.
func (s *Store) DeleteBot(ctx context.Context, id string) error {
	return s.updateBot(ctx, id, `DELETE FROM bots WHERE id = ?`, id)
}
