// Package messaging abstracts the external messaging network a worker is
// connected to.
package messaging

import (
	"context"
)

// EventKind identifies a network event.
type EventKind int

const (
	// EventConnectionProof carries an artifact an operator uses to verify or
	// complete the session link.
	EventConnectionProof EventKind = iota
	EventConnected
	EventDisconnected
	EventInbound
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionProof:
		return "connection_proof"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventInbound:
		return "inbound"
	}
	return "unknown"
}

// Event is emitted by a Network.
type Event struct {
	Kind EventKind

	Proof  string
	Reason string

	// Inbound only.
	Address string
	Text    string
	// Phone is set when the contact shared a phone number explicitly.
	Phone string
}

// Network is a messaging-network session.
type Network interface {
	// Run connects and pumps events until ctx is cancelled or the session is lost.
	Run(ctx context.Context) error
	// Events returns the event stream. It is closed when Run returns.
	Events() <-chan Event
	// SendText delivers text to an external address.
	SendText(ctx context.Context, address, text string) error
}
