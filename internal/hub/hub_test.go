package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/service"
	"github.com/capitalize-ai/lead-fleet/internal/supervisor"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

type fakeFleet struct{}

func (fakeFleet) Views(context.Context) ([]model.BotView, error) {
	return []model.BotView{{ID: "b1", Name: "Ventas", RuntimeStatus: model.RuntimeConnected}}, nil
}

func (fakeFleet) ViewByID(_ context.Context, id string) (*model.BotView, error) {
	if id != "b1" {
		return nil, fmt.Errorf("bot %s: %w", id, service.ErrNotFound)
	}
	return &model.BotView{ID: "b1", Name: "Ventas", RuntimeStatus: model.RuntimeConnected}, nil
}

type fakeLeads struct {
	mu       sync.Mutex
	assigned map[string]string
	hub      *Hub

	// When set, ListQualified signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeLeads) ListQualified(context.Context) ([]model.Lead, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return []model.Lead{{ID: "l1", BotID: "b1", Status: model.LeadQualified}}, nil
}

func (f *fakeLeads) History(_ context.Context, id string) (*model.LeadHistory, error) {
	if id != "l1" {
		return nil, fmt.Errorf("lead %s: %w", id, service.ErrNotFound)
	}
	l := &model.Lead{ID: "l1", BotID: "b1"}
	return &model.LeadHistory{LeadID: "l1", Lead: l, Messages: []model.LeadMessage{{LeadID: "l1", Sender: "51999", Text: "hola"}}}, nil
}

func (f *fakeLeads) Assign(_ context.Context, id, operator string) (*model.Lead, error) {
	f.mu.Lock()
	f.assigned[id] = operator
	f.mu.Unlock()
	l := &model.Lead{ID: id, BotID: "b1", Status: model.LeadAssigned, AssignedTo: operator}
	f.hub.Notify(model.NewEnvelope(model.EventLeadAssigned, "b1", l))
	return l, nil
}

func (f *fakeLeads) SendOperatorMessage(_ context.Context, id, _, _ string) (*model.MessageSent, error) {
	return nil, fmt.Errorf("bot b1: %w", supervisor.ErrWorkerNotRunning)
}

type fakeAudit struct {
	mu    sync.Mutex
	types []model.EventType
}

func (a *fakeAudit) PublishEvent(_ context.Context, env model.Envelope) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types = append(a.types, env.Type)
	return uint64(len(a.types)), nil
}

func (a *fakeAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.types)
}

type received struct {
	Type model.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T) (*Hub, *fakeLeads, *fakeAudit, string) {
	t.Helper()
	h, leads, audit, url, _ := startHub(t, &fakeLeads{assigned: map[string]string{}})
	return h, leads, audit, url
}

func startHub(t *testing.T, leads *fakeLeads) (*Hub, *fakeLeads, *fakeAudit, string, context.CancelFunc) {
	t.Helper()
	audit := &fakeAudit{}
	h := New(fakeFleet{}, leads, audit, logger.NewNop())
	leads.hub = h

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "ops@x.com")
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, leads, audit, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	snap := read(t, conn)
	if snap.Type != model.EventSnapshot {
		t.Fatalf("first envelope = %s, want snapshot", snap.Type)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env received
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

func TestSnapshotOnConnect(t *testing.T) {
	_, _, _, url := newTestHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	env := read(t, conn)
	if env.Type != model.EventSnapshot {
		t.Fatalf("type = %s, want snapshot", env.Type)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(snap.Bots) != 1 || len(snap.QualifiedLeads) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestNotifyBroadcastsAndAudits(t *testing.T) {
	h, _, audit, url := newTestHub(t)
	a := dial(t, url)
	b := dial(t, url)

	h.Notify(model.NewEnvelope(model.EventBotDeleted, "b1", model.BotDeleted{ID: "b1"}))

	for _, conn := range []*websocket.Conn{a, b} {
		if env := read(t, conn); env.Type != model.EventBotDeleted {
			t.Errorf("type = %s, want bot_deleted", env.Type)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for audit.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if audit.count() != 1 {
		t.Errorf("audited %d events, want 1", audit.count())
	}
}

func TestHistoryIsPrivate(t *testing.T) {
	h, _, _, url := newTestHub(t)
	a := dial(t, url)
	b := dial(t, url)

	if err := a.WriteJSON(model.Command{Type: model.CommandFetchHistory, LeadID: "l1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	env := read(t, a)
	if env.Type != model.EventLeadHistory {
		t.Fatalf("type = %s, want lead_history", env.Type)
	}
	var hist model.LeadHistory
	if err := json.Unmarshal(env.Data, &hist); err != nil || len(hist.Messages) != 1 {
		t.Errorf("history = %+v, %v", hist, err)
	}

	// The other viewer sees the next broadcast, not the history reply.
	h.Notify(model.NewEnvelope(model.EventBotUpdated, "b1", nil))
	if env := read(t, b); env.Type != model.EventBotUpdated {
		t.Errorf("other viewer got %s, want bot_updated", env.Type)
	}
}

func TestAssignDefaultsToViewer(t *testing.T) {
	_, leads, _, url := newTestHub(t)
	a := dial(t, url)

	if err := a.WriteJSON(model.Command{Type: model.CommandAssignLead, LeadID: "l1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if env := read(t, a); env.Type != model.EventLeadAssigned {
		t.Fatalf("type = %s, want lead_assigned", env.Type)
	}
	leads.mu.Lock()
	defer leads.mu.Unlock()
	if leads.assigned["l1"] != "ops@x.com" {
		t.Errorf("assignee = %q, want ops@x.com", leads.assigned["l1"])
	}
}

func TestCommandErrorsArePrivate(t *testing.T) {
	_, _, _, url := newTestHub(t)
	a := dial(t, url)

	tests := []struct {
		cmd  model.Command
		code string
	}{
		{model.Command{Type: model.CommandFetchHistory, LeadID: "missing"}, "not_found"},
		{model.Command{Type: model.CommandSendMessage, LeadID: "l1", Text: "hola"}, "worker_not_running"},
		{model.Command{Type: "dance"}, "unknown_command"},
	}
	for _, tt := range tests {
		if err := a.WriteJSON(tt.cmd); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
		env := read(t, a)
		if env.Type != model.EventError {
			t.Fatalf("type = %s, want error", env.Type)
		}
		var e model.ErrorEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if e.Code != tt.code {
			t.Errorf("%s: code = %q, want %q", tt.cmd.Type, e.Code, tt.code)
		}
	}
}

func TestConsumeTranslatesFleetEvents(t *testing.T) {
	h, _, _, url := newTestHub(t)
	a := dial(t, url)
	events := make(chan supervisor.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Consume(ctx, events)

	events <- supervisor.Connected{BotID: "b1"}
	events <- supervisor.Connected{BotID: "gone"}
	events <- supervisor.LeadQualified{BotID: "b1", Lead: model.Lead{ID: "l9"}}
	events <- supervisor.MessageForOperator{BotID: "b1", LeadID: "l9", FromAddress: "51999", Text: "sigo aqui"}

	want := []model.EventType{model.EventBotUpdated, model.EventLeadQualified, model.EventMessageForOperator}
	for _, w := range want {
		if env := read(t, a); env.Type != w {
			t.Errorf("type = %s, want %s", env.Type, w)
		}
	}
}

func TestEventDuringSnapshotReachesViewer(t *testing.T) {
	leads := &fakeLeads{
		assigned: map[string]string{},
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	h, _, _, url, _ := startHub(t, leads)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	select {
	case <-leads.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was never built")
	}
	h.Notify(model.NewEnvelope(model.EventLeadQualified, "b1", model.Lead{ID: "l9", BotID: "b1"}))
	close(leads.release)

	if env := read(t, conn); env.Type != model.EventSnapshot {
		t.Fatalf("first envelope = %s, want snapshot", env.Type)
	}
	env := read(t, conn)
	if env.Type != model.EventLeadQualified {
		t.Fatalf("second envelope = %s, want lead_qualified", env.Type)
	}
	var l model.Lead
	if err := json.Unmarshal(env.Data, &l); err != nil || l.ID != "l9" {
		t.Errorf("lead = %+v, %v", l, err)
	}
}

func TestShutdownClosesViewers(t *testing.T) {
	h, _, _, url, cancel := startHub(t, &fakeLeads{assigned: map[string]string{}})
	conn := dial(t, url)

	cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() after shutdown succeeded, want close")
	}
}

func TestQueueAfterShutdownDoesNotPanic(t *testing.T) {
	h := New(fakeFleet{}, &fakeLeads{assigned: map[string]string{}}, nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &Client{hub: h, send: make(chan []byte, 1), email: "ops@x.com"}
	h.register <- c
	cancel()
	<-h.done

	// The buffer already holds the snapshot; both calls must return quietly.
	c.queue(model.NewEnvelope(model.EventError, "", model.ErrorEvent{Code: "internal"}))
	c.queue(model.NewEnvelope(model.EventError, "", model.ErrorEvent{Code: "internal"}))
	if len(c.send) != 1 {
		t.Errorf("queued %d frames, want 1", len(c.send))
	}
}
