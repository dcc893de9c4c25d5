package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/ipc"
	"github.com/capitalize-ai/lead-fleet/internal/lead"
	"github.com/capitalize-ai/lead-fleet/internal/messaging"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

type fakeNetwork struct {
	events chan messaging.Event

	mu   sync.Mutex
	sent []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{events: make(chan messaging.Event, 16)}
}

func (n *fakeNetwork) Run(ctx context.Context) error {
	<-ctx.Done()
	close(n.events)
	return nil
}

func (n *fakeNetwork) Events() <-chan messaging.Event { return n.events }

func (n *fakeNetwork) SendText(_ context.Context, address, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, address+":"+text)
	return nil
}

func (n *fakeNetwork) sentTexts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type fakeEngine struct {
	outcome *lead.Outcome
}

func (e *fakeEngine) HandleInbound(context.Context, lead.Inbound) (*lead.Outcome, error) {
	return e.outcome, nil
}

type harness struct {
	sup    *ipc.Channel
	events chan ipc.Envelope
	done   chan error
	net    *fakeNetwork
}

func startWorker(t *testing.T, engine Engine) *harness {
	t.Helper()
	toWorkerR, toWorkerW := io.Pipe()
	toSupR, toSupW := io.Pipe()

	h := &harness{
		sup:    ipc.NewChannel(toSupR, toWorkerW, toWorkerW),
		events: make(chan ipc.Envelope, 32),
		done:   make(chan error, 1),
		net:    newFakeNetwork(),
	}
	w := New(ipc.NewChannel(toWorkerR, toSupW, nil), Deps{
		Network: func(model.BotConfig) (messaging.Network, error) { return h.net, nil },
		Engine:  func(model.BotConfig) (Engine, error) { return engine, nil },
	}, logger.NewNop())

	go func() {
		h.done <- w.Run(context.Background())
		toSupW.Close()
	}()
	go func() {
		defer close(h.events)
		for {
			env, err := h.sup.Receive()
			if err != nil {
				return
			}
			h.events <- env
		}
	}()
	return h
}

func (h *harness) next(t *testing.T) ipc.Envelope {
	t.Helper()
	select {
	case env, ok := <-h.events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ipc.Envelope{}
}

func TestWorkerRejectsNonInitFirst(t *testing.T) {
	h := startWorker(t, &fakeEngine{})
	if err := h.sup.SendPayload(ipc.TypeSend, ipc.Send{TargetAddress: "1", Text: "x"}); err != nil {
		t.Fatalf("SendPayload() error = %v", err)
	}
	select {
	case err := <-h.done:
		if !errors.Is(err, ipc.ErrProtocolViolation) {
			t.Errorf("Run() error = %v, want ErrProtocolViolation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorkerRelaysEvents(t *testing.T) {
	qualified := &model.Lead{ID: "l1", Status: model.LeadQualified}
	h := startWorker(t, &fakeEngine{outcome: &lead.Outcome{Lead: qualified, Reply: "gracias", Qualified: true}})

	if err := h.sup.SendPayload(ipc.TypeInit, ipc.Init{Bot: model.BotConfig{ID: "b1"}}); err != nil {
		t.Fatalf("SendPayload(INIT) error = %v", err)
	}

	h.net.events <- messaging.Event{Kind: messaging.EventConnectionProof, Proof: "https://t.me/sales_bot"}
	h.net.events <- messaging.Event{Kind: messaging.EventConnected}
	h.net.events <- messaging.Event{Kind: messaging.EventInbound, Address: "42", Text: "Vivo en Lima"}

	env := h.next(t)
	var qr ipc.QRReady
	if env.Type != ipc.TypeQRReady || env.Decode(&qr) != nil || qr.QRImage != "https://t.me/sales_bot" {
		t.Fatalf("first event = %s %s", env.Type, env.Payload)
	}
	if env := h.next(t); env.Type != ipc.TypeConnected {
		t.Fatalf("second event = %s, want CONNECTED", env.Type)
	}
	env = h.next(t)
	var lq ipc.LeadQualified
	if env.Type != ipc.TypeLeadQualified || env.Decode(&lq) != nil || lq.Lead.ID != "l1" {
		t.Fatalf("third event = %s %s", env.Type, env.Payload)
	}

	if err := h.sup.SendPayload(ipc.TypeSend, ipc.Send{TargetAddress: "42", Text: "hola desde ventas"}); err != nil {
		t.Fatalf("SendPayload(SEND) error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.net.sentTexts()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := h.net.sentTexts()
	if len(sent) != 2 || sent[0] != "42:gracias" || sent[1] != "42:hola desde ventas" {
		t.Errorf("sent = %v", sent)
	}

	h.sup.Close()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on channel close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after channel close")
	}
}

func TestWorkerForwardsOperatorMessages(t *testing.T) {
	assigned := &model.Lead{ID: "l9", Status: model.LeadAssigned}
	h := startWorker(t, &fakeEngine{outcome: &lead.Outcome{Lead: assigned, ForOperator: true}})
	if err := h.sup.SendPayload(ipc.TypeInit, ipc.Init{Bot: model.BotConfig{ID: "b1"}}); err != nil {
		t.Fatalf("SendPayload(INIT) error = %v", err)
	}
	h.net.events <- messaging.Event{Kind: messaging.EventInbound, Address: "42", Text: "¿Siguen ahí?"}

	env := h.next(t)
	var m ipc.MessageForOperator
	if env.Type != ipc.TypeMessageForOperator || env.Decode(&m) != nil {
		t.Fatalf("event = %s %s", env.Type, env.Payload)
	}
	if m.LeadID != "l9" || m.FromAddress != "42" || m.Text != "¿Siguen ahí?" {
		t.Errorf("payload = %+v", m)
	}
	if len(h.net.sentTexts()) != 0 {
		t.Errorf("assigned lead should not autoreply, sent %v", h.net.sentTexts())
	}
	h.sup.Close()
	<-h.done
}
