// Package ipc implements the envelope protocol spoken between the supervisor
// and each worker process: newline-delimited JSON over a duplex byte pipe.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/capitalize-ai/lead-fleet/internal/model"
)

// ErrProtocolViolation reports an envelope that is not allowed at this point of the exchange.
var ErrProtocolViolation = errors.New("ipc protocol violation")

// Type tags an envelope.
type Type string

// Supervisor to worker.
const (
	TypeInit Type = "INIT"
	TypeSend Type = "SEND"
)

// Worker to supervisor.
const (
	TypeQRReady            Type = "QR_READY"
	TypeConnected          Type = "CONNECTED"
	TypeDisconnected       Type = "DISCONNECTED"
	TypeLeadQualified      Type = "LEAD_QUALIFIED"
	TypeMessageForOperator Type = "MESSAGE_FOR_OPERATOR"
)

// Envelope is one message on the channel.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Init is the first supervisor message.
type Init struct {
	Bot model.BotConfig `json:"botConfig"`
}

// Send asks the worker to deliver text to an external address.
type Send struct {
	TargetAddress string `json:"targetAddress"`
	Text          string `json:"text"`
}

// QRReady carries the connection-proof artifact.
type QRReady struct {
	QRImage string `json:"qrImage"`
}

// Disconnected carries the reason the session dropped.
type Disconnected struct {
	Reason string `json:"reason"`
}

// LeadQualified carries the lead that just qualified.
type LeadQualified struct {
	Lead model.Lead `json:"lead"`
}

// MessageForOperator surfaces an inbound message on a lead owned by operators.
type MessageForOperator struct {
	LeadID      string `json:"leadId"`
	FromAddress string `json:"fromAddress"`
	Text        string `json:"text"`
}

// New builds an envelope, marshaling payload when non-nil.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrProtocolViolation, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", ErrProtocolViolation, e.Type, err)
	}
	return nil
}

// FromWorker reports whether t is a worker-originated type.
func (t Type) FromWorker() bool {
	switch t {
	case TypeQRReady, TypeConnected, TypeDisconnected, TypeLeadQualified, TypeMessageForOperator:
		return true
	}
	return false
}

// Channel is one end of an envelope stream. Send is safe for concurrent use;
// Receive must be called from a single goroutine.
type Channel struct {
	mu      sync.Mutex
	enc     *json.Encoder
	scanner *bufio.Scanner
	closer  io.Closer
}

const maxEnvelopeSize = 4 << 20

// NewChannel wraps a reader and writer. closer, if non-nil, is closed by Close.
func NewChannel(r io.Reader, w io.Writer, closer io.Closer) *Channel {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEnvelopeSize)
	return &Channel{
		enc:     json.NewEncoder(w),
		scanner: scanner,
		closer:  closer,
	}
}

// Send writes one envelope followed by a newline.
func (c *Channel) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(env); err != nil {
		return fmt.Errorf("failed to write %s envelope: %w", env.Type, err)
	}
	return nil
}

// SendPayload builds and sends an envelope in one step.
func (c *Channel) SendPayload(t Type, payload any) error {
	env, err := New(t, payload)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Receive blocks for the next envelope. It returns io.EOF when the peer closes.
func (c *Channel) Receive() (Envelope, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("%w: malformed envelope: %v", ErrProtocolViolation, err)
		}
		if env.Type == "" {
			return Envelope{}, fmt.Errorf("%w: envelope without type", ErrProtocolViolation)
		}
		return env, nil
	}
	if err := c.scanner.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// Close releases the underlying pipe.
func (c *Channel) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
