package model

import (
	"time"
)

// SenderBot marks messages produced by the bot itself.
const SenderBot = "bot"

// LeadMessage is one entry of a lead's append-only conversation log.
// Sender is the external address, SenderBot, or an operator e-mail.
type LeadMessage struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// OperatorMessage is an inbound external message surfaced to operators.
type OperatorMessage struct {
	LeadID    string    `json:"lead_id"`
	BotID     string    `json:"bot_id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSent confirms an operator message forwarded to a worker.
type MessageSent struct {
	LeadID    string    `json:"lead_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadHistory is the private answer to a history fetch.
type LeadHistory struct {
	LeadID   string        `json:"lead_id"`
	Lead     *Lead         `json:"lead"`
	Messages []LeadMessage `json:"messages"`
}
