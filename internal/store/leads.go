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

const leadColumns = `id, bot_id, external_address, name, email, location, phone, status, assigned_to,
    captured_at, qualified_at, last_activity_at`

func scanLead(row scanner) (*model.Lead, error) {
	var (
		l                      model.Lead
		capturedAt, activityAt int64
		qualifiedAt            sql.NullInt64
	)
	err := row.Scan(&l.ID, &l.BotID, &l.ExternalAddress, &l.Name, &l.Email, &l.Location, &l.Phone,
		&l.Status, &l.AssignedTo, &capturedAt, &qualifiedAt, &activityAt)
	if err != nil {
		return nil, err
	}
	l.CapturedAt = fromMillis(capturedAt)
	l.QualifiedAt = timePtr(qualifiedAt)
	l.LastActivityAt = fromMillis(activityAt)
	return &l, nil
}

// GetOrCreateLead returns the lead for (botID, address), creating a capturing
// lead when none exists. created reports whether a row was inserted.
func (s *Store) GetOrCreateLead(ctx context.Context, botID, address string, now time.Time) (*model.Lead, bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO leads(id, bot_id, external_address, status, captured_at, last_activity_at)
VALUES(?,?,?,?,?,?)
ON CONFLICT(bot_id, external_address) DO NOTHING`,
		uuid.Must(uuid.NewV7()).String(), botID, address, model.LeadCapturing, toMillis(now), toMillis(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create lead: %w", err)
	}
	created, err := rowsAffected(res)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE bot_id = ? AND external_address = ?`, botID, address)
	l, err := scanLead(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load lead: %w", err)
	}
	return l, created, nil
}

// GetLead returns a lead by id.
func (s *Store) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return l, nil
}

// SaveLeadFields persists collected fields and activity time. Status is untouched.
func (s *Store) SaveLeadFields(ctx context.Context, l *model.Lead) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE leads SET name = ?, email = ?, location = ?, phone = ?, last_activity_at = ? WHERE id = ?`,
		l.Name, l.Email, l.Location, l.Phone, toMillis(l.LastActivityAt), l.ID)
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}
	return nil
}

// TouchLead records activity on a lead.
func (s *Store) TouchLead(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE leads SET last_activity_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch lead: %w", err)
	}
	return nil
}

// QualifyLead persists a capturing to qualified transition. It fails with
// model.ErrInvalidTransition when the stored lead is no longer capturing.
func (s *Store) QualifyLead(ctx context.Context, l *model.Lead) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE leads SET name = ?, email = ?, location = ?, phone = ?, status = ?, qualified_at = ?, last_activity_at = ?
WHERE id = ? AND status = ?`,
		l.Name, l.Email, l.Location, l.Phone, model.LeadQualified, nullMillis(l.QualifiedAt),
		toMillis(l.LastActivityAt), l.ID, model.LeadCapturing)
	if err != nil {
		return fmt.Errorf("failed to qualify lead: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lead %s: %w", l.ID, model.ErrInvalidTransition)
	}
	return nil
}

// AssignLead moves a qualified lead to assigned. Concurrent assigns race on
// the conditional update; the loser gets model.ErrInvalidTransition.
func (s *Store) AssignLead(ctx context.Context, id, operator string) (*model.Lead, error) {
	l, err := s.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.Assign(operator); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, assigned_to = ? WHERE id = ? AND status = ?`,
		model.LeadAssigned, operator, id, model.LeadQualified)
	if err != nil {
		return nil, fmt.Errorf("failed to assign lead: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, model.ErrInvalidTransition)
	}
	return l, nil
}

// ListLeadsByStatus returns leads with the given status, most recent activity first.
func (s *Store) ListLeadsByStatus(ctx context.Context, status model.LeadStatus) ([]model.Lead, error) {
	return s.queryLeads(ctx, `SELECT `+leadColumns+` FROM leads WHERE status = ? ORDER BY last_activity_at DESC`, status)
}

// ListLeadsByAssignee returns the leads assigned to operator.
func (s *Store) ListLeadsByAssignee(ctx context.Context, operator string) ([]model.Lead, error) {
	return s.queryLeads(ctx, `SELECT `+leadColumns+` FROM leads WHERE status = ? AND assigned_to = ? ORDER BY last_activity_at DESC`,
		model.LeadAssigned, operator)
}

func (s *Store) queryLeads(ctx context.Context, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// AppendMessage adds a message to a lead's log, assigning an id when empty.
func (s *Store) AppendMessage(ctx context.Context, m *model.LeadMessage) error {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_messages(id, lead_id, sender, text, ts) VALUES(?,?,?,?,?)`,
		m.ID, m.LeadID, m.Sender, m.Text, toMillis(m.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns a lead's full log in timestamp order.
func (s *Store) ListMessages(ctx context.Context, leadID string) ([]model.LeadMessage, error) {
	return s.queryMessages(ctx,
		`SELECT id, lead_id, sender, text, ts FROM lead_messages WHERE lead_id = ? ORDER BY ts, id`, leadID)
}

// RecentMessages returns the last n messages of a lead in timestamp order.
func (s *Store) RecentMessages(ctx context.Context, leadID string, n int) ([]model.LeadMessage, error) {
	return s.queryMessages(ctx, `
SELECT id, lead_id, sender, text, ts FROM (
    SELECT id, lead_id, sender, text, ts FROM lead_messages WHERE lead_id = ? ORDER BY ts DESC, id DESC LIMIT ?
) ORDER BY ts, id`, leadID, n)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]model.LeadMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.LeadMessage{}
	for rows.Next() {
		var (
			m  model.LeadMessage
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Sender, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
