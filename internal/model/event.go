package model

import (
	"time"
)

// EventType identifies a viewer-facing envelope.
type EventType string

const (
	EventSnapshot           EventType = "snapshot"
	EventBotCreated         EventType = "bot_created"
	EventBotUpdated         EventType = "bot_updated"
	EventBotDeleted         EventType = "bot_deleted"
	EventBotFeaturesUpdated EventType = "bot_features_updated"
	EventLeadQualified      EventType = "lead_qualified"
	EventLeadAssigned       EventType = "lead_assigned"
	EventMessageForOperator EventType = "message_for_operator"
	EventMessageSent        EventType = "message_sent"
	EventLeadHistory        EventType = "lead_history"
	EventScheduleCreated    EventType = "schedule_created"
	EventScheduleCancelled  EventType = "schedule_cancelled"
	EventScheduleExecuted   EventType = "schedule_executed"
	EventError              EventType = "error"
)

// CommandType identifies a viewer-originated command.
type CommandType string

const (
	CommandAssignLead   CommandType = "assign_lead"
	CommandSendMessage  CommandType = "send_message"
	CommandFetchHistory CommandType = "fetch_lead_history"
)

// Envelope is one logical event sent to viewers.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// BotID routes the envelope in the audit log; not sent to viewers.
	BotID string `json:"-"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(t EventType, botID string, data any) Envelope {
	return Envelope{Type: t, Data: data, Timestamp: time.Now().UTC(), BotID: botID}
}

// Command is a viewer-originated request.
type Command struct {
	Type     CommandType `json:"type"`
	LeadID   string      `json:"lead_id"`
	Assignee string      `json:"assignee,omitempty"`
	Text     string      `json:"text,omitempty"`
}

// Snapshot is sent privately to a viewer on connect.
type Snapshot struct {
	Bots           []BotView `json:"bots"`
	QualifiedLeads []Lead    `json:"qualified_leads"`
}

// BotDeleted identifies a removed bot.
type BotDeleted struct {
	ID string `json:"id"`
}

// FeaturesUpdated carries a bot's new feature set.
type FeaturesUpdated struct {
	BotID    string      `json:"bot_id"`
	Features BotFeatures `json:"features"`
}

// ScheduleCancelledEvent identifies a cancelled schedule.
type ScheduleCancelledEvent struct {
	ScheduleID string `json:"schedule_id"`
	BotID      string `json:"bot_id"`
}

// ErrorEvent represents an error answered privately to a viewer.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
