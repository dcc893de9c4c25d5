// Package model defines data structures for the bot fleet.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig reports a BotConfig missing required fields.
var ErrInvalidConfig = errors.New("invalid bot configuration")

// BotStatus is the persisted desired state of a bot.
type BotStatus string

const (
	BotEnabled  BotStatus = "enabled"
	BotDisabled BotStatus = "disabled"
)

// RuntimeStatus is the live state of a bot as seen by viewers.
type RuntimeStatus string

const (
	RuntimeDisabled     RuntimeStatus = "DISABLED"
	RuntimeDisconnected RuntimeStatus = "DISCONNECTED"
	RuntimeStarting     RuntimeStatus = "STARTING"
	RuntimePendingQR    RuntimeStatus = "PENDING_QR"
	RuntimeConnected    RuntimeStatus = "CONNECTED"
)

// BotFeatures toggles optional per-bot behavior.
type BotFeatures struct {
	SchedulingEnabled   bool   `json:"scheduling_enabled"`
	AutoResponseEnabled bool   `json:"auto_response_enabled"`
	LeadCaptureEnabled  bool   `json:"lead_capture_enabled"`
	WorkingHoursEnabled bool   `json:"working_hours_enabled"`
	WorkingHoursStart   string `json:"working_hours_start"`
	WorkingHoursEnd     string `json:"working_hours_end"`
}

// DefaultFeatures returns the features a new bot starts with.
func DefaultFeatures() BotFeatures {
	return BotFeatures{
		AutoResponseEnabled: true,
		LeadCaptureEnabled:  true,
		WorkingHoursStart:   "09:00",
		WorkingHoursEnd:     "18:00",
	}
}

// Validate checks the working-hours window format.
func (f BotFeatures) Validate() error {
	if _, err := parseClock(f.WorkingHoursStart); err != nil {
		return fmt.Errorf("working_hours_start: %w", err)
	}
	if _, err := parseClock(f.WorkingHoursEnd); err != nil {
		return fmt.Errorf("working_hours_end: %w", err)
	}
	return nil
}

// WithinWorkingHours reports whether t falls inside the configured window.
// It is always true when the working-hours feature is off.
func (f BotFeatures) WithinWorkingHours(t time.Time) bool {
	if !f.WorkingHoursEnabled {
		return true
	}
	start, err := parseClock(f.WorkingHoursStart)
	if err != nil {
		return true
	}
	end, err := parseClock(f.WorkingHoursEnd)
	if err != nil {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// window wraps midnight
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BotConfig is the persisted configuration of one bot.
type BotConfig struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	OwnerID      string      `json:"owner_id"`
	Prompt       string      `json:"prompt"`
	Status       BotStatus   `json:"status"`
	ChannelToken string      `json:"channel_token,omitempty"`
	Features     BotFeatures `json:"features"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Validate rejects configurations missing required fields.
func (b *BotConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(b.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(b.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(b.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if strings.TrimSpace(b.OwnerID) == "" {
		missing = append(missing, "owner_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if b.Status != BotEnabled && b.Status != BotDisabled {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidConfig, b.Status)
	}
	return nil
}

// BotView is a bot as shown to viewers: no credentials, plus runtime state.
type BotView struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	OwnerID       string        `json:"owner_id"`
	Prompt        string        `json:"prompt"`
	Status        BotStatus     `json:"status"`
	Features      BotFeatures   `json:"features"`
	CreatedAt     time.Time     `json:"created_at"`
	RuntimeStatus RuntimeStatus `json:"runtime_status"`
	QR            string        `json:"qr,omitempty"`
}

// View projects a bot into its viewer representation.
func (b *BotConfig) View(status RuntimeStatus, qr string) BotView {
	return BotView{
		ID:            b.ID,
		Name:          b.Name,
		OwnerID:       b.OwnerID,
		Prompt:        b.Prompt,
		Status:        b.Status,
		Features:      b.Features,
		CreatedAt:     b.CreatedAt,
		RuntimeStatus: status,
		QR:            qr,
	}
}
