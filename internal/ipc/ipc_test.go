package ipc

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/capitalize-ai/lead-fleet/internal/model"
)

func TestChannelRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	tx := NewChannel(strings.NewReader(""), w, w)
	rx := NewChannel(r, io.Discard, r)

	go func() {
		_ = tx.SendPayload(TypeInit, Init{Bot: model.BotConfig{ID: "b1", Prompt: "hola"}})
		_ = tx.SendPayload(TypeConnected, nil)
		_ = tx.Close()
	}()

	env, err := rx.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if env.Type != TypeInit {
		t.Fatalf("Type = %s, want INIT", env.Type)
	}
	var init Init
	if err := env.Decode(&init); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if init.Bot.ID != "b1" || init.Bot.Prompt != "hola" {
		t.Errorf("got %+v", init.Bot)
	}

	env, err = rx.Receive()
	if err != nil || env.Type != TypeConnected {
		t.Fatalf("Receive() = %v, %v; want CONNECTED", env.Type, err)
	}
	if _, err := rx.Receive(); !errors.Is(err, io.EOF) {
		t.Errorf("Receive() after close error = %v, want EOF", err)
	}
}

func TestChannelConcurrentSendKeepsLinesIntact(t *testing.T) {
	r, w := io.Pipe()
	tx := NewChannel(strings.NewReader(""), w, w)
	rx := NewChannel(r, io.Discard, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tx.SendPayload(TypeSend, Send{TargetAddress: "42", Text: strings.Repeat("x", 512)})
		}()
	}
	go func() {
		wg.Wait()
		_ = tx.Close()
	}()

	got := 0
	for {
		env, err := rx.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		var s Send
		if err := env.Decode(&s); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		got++
	}
	if got != n {
		t.Errorf("received %d envelopes, want %d", got, n)
	}
}

func TestReceiveMalformed(t *testing.T) {
	rx := NewChannel(strings.NewReader("not json\n"), io.Discard, nil)
	if _, err := rx.Receive(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Receive() error = %v, want ErrProtocolViolation", err)
	}

	rx = NewChannel(strings.NewReader(`{"payload":{}}`+"\n"), io.Discard, nil)
	if _, err := rx.Receive(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Receive() error = %v, want ErrProtocolViolation", err)
	}
}

func TestFromWorker(t *testing.T) {
	if TypeInit.FromWorker() || TypeSend.FromWorker() {
		t.Error("supervisor types reported as worker types")
	}
	if !TypeLeadQualified.FromWorker() {
		t.Error("LEAD_QUALIFIED should be a worker type")
	}
}
