package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition reports a lead status change that is not a forward step.
var ErrInvalidTransition = errors.New("invalid lead status transition")

// LeadStatus is the qualification stage of a lead.
type LeadStatus string

const (
	LeadCapturing LeadStatus = "capturing"
	LeadQualified LeadStatus = "qualified"
	LeadAssigned  LeadStatus = "assigned"
)

// next returns the single status reachable from s, or "" for the terminal state.
func (s LeadStatus) next() LeadStatus {
	switch s {
	case LeadCapturing:
		return LeadQualified
	case LeadQualified:
		return LeadAssigned
	default:
		return ""
	}
}

// CanTransitionTo reports whether moving from s to target is a forward step.
func (s LeadStatus) CanTransitionTo(target LeadStatus) bool {
	return target != "" && s.next() == target
}

// LeadField names a collected contact field.
type LeadField string

const (
	FieldName     LeadField = "name"
	FieldEmail    LeadField = "email"
	FieldLocation LeadField = "location"
	FieldPhone    LeadField = "phone"
)

// requiredFields is the order in which missing fields are asked for.
var requiredFields = []LeadField{FieldName, FieldEmail, FieldLocation}

// LeadFields are the contact fields extracted from a conversation.
type LeadFields struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Location string `json:"location,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Empty reports whether no field carries a value.
func (f LeadFields) Empty() bool {
	return f == LeadFields{}
}

// Lead is a tracked conversation with a prospective contact.
type Lead struct {
	ID              string `json:"id"`
	BotID           string `json:"bot_id"`
	ExternalAddress string `json:"external_address"`
	LeadFields
	Status         LeadStatus `json:"status"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	CapturedAt     time.Time  `json:"captured_at"`
	QualifiedAt    *time.Time `json:"qualified_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// Merge applies extracted fields last-non-empty-wins and reports whether anything changed.
func (l *Lead) Merge(f LeadFields) bool {
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&l.Name, f.Name)
	set(&l.Email, f.Email)
	set(&l.Location, f.Location)
	set(&l.Phone, f.Phone)
	return changed
}

func (l *Lead) field(name LeadField) string {
	switch name {
	case FieldName:
		return l.Name
	case FieldEmail:
		return l.Email
	case FieldLocation:
		return l.Location
	case FieldPhone:
		return l.Phone
	}
	return ""
}

// MissingField returns the highest-priority required field still unset, or "".
func (l *Lead) MissingField() LeadField {
	for _, f := range requiredFields {
		if strings.TrimSpace(l.field(f)) == "" {
			return f
		}
	}
	return ""
}

// Complete reports whether name, email and location are all present.
func (l *Lead) Complete() bool {
	return l.MissingField() == ""
}

// Qualify moves a capturing lead to qualified, backfilling phone from the
// conversation address when none was collected.
func (l *Lead) Qualify(now time.Time) error {
	if !l.Status.CanTransitionTo(LeadQualified) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, LeadQualified)
	}
	if !l.Complete() {
		return fmt.Errorf("%w: missing %s", ErrInvalidTransition, l.MissingField())
	}
	if strings.TrimSpace(l.Phone) == "" {
		l.Phone = l.ExternalAddress
	}
	l.Status = LeadQualified
	l.QualifiedAt = &now
	return nil
}

// Assign hands a qualified lead to an operator.
func (l *Lead) Assign(operator string) error {
	if strings.TrimSpace(operator) == "" {
		return fmt.Errorf("%w: empty assignee", ErrInvalidTransition)
	}
	if !l.Status.CanTransitionTo(LeadAssigned) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, LeadAssigned)
	}
	l.Status = LeadAssigned
	l.AssignedTo = operator
	return nil
}
