package supervisor

import (
	"github.com/capitalize-ai/lead-fleet/internal/model"
)

// Event is a fleet event relayed from a worker or produced by the exit
// observer. The set of implementations is closed.
type Event interface {
	Bot() string
	fleetEvent()
}

// QRReady carries a connection-proof artifact.
type QRReady struct {
	BotID string
	QR    string
}

// Connected reports an established network session.
type Connected struct {
	BotID string
}

// Disconnected reports a lost session or an exited worker.
type Disconnected struct {
	BotID  string
	Reason string
}

// LeadQualified reports a lead that completed qualification.
type LeadQualified struct {
	BotID string
	Lead  model.Lead
}

// MessageForOperator surfaces an inbound message on an operator-owned lead.
type MessageForOperator struct {
	BotID       string
	LeadID      string
	FromAddress string
	Text        string
}

func (e QRReady) Bot() string            { return e.BotID }
func (e Connected) Bot() string          { return e.BotID }
func (e Disconnected) Bot() string       { return e.BotID }
func (e LeadQualified) Bot() string      { return e.BotID }
func (e MessageForOperator) Bot() string { return e.BotID }

func (QRReady) fleetEvent()            {}
func (Connected) fleetEvent()          {}
func (Disconnected) fleetEvent()       {}
func (LeadQualified) fleetEvent()      {}
func (MessageForOperator) fleetEvent() {}
