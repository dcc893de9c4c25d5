package lead_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/capitalize-ai/lead-fleet/internal/lead"
	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/internal/store"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

type fakeExtractor struct {
	answers map[string]model.LeadFields
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (model.LeadFields, error) {
	f.calls++
	if f.err != nil {
		return model.LeadFields{}, f.err
	}
	return f.answers[text], nil
}

type fakeReplier struct {
	reply string
	err   error
	calls int
}

func (f *fakeReplier) Reply(_ context.Context, _ string, _ []model.LeadMessage, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func newEngine(t *testing.T, ex lead.Extractor, rp lead.Replier) (*lead.Engine, *store.Store) {
	t.Helper()
	return newEngineWithFeatures(t, model.DefaultFeatures(), ex, rp)
}

func newEngineWithFeatures(t *testing.T, features model.BotFeatures, ex lead.Extractor, rp lead.Replier) (*lead.Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bot := model.BotConfig{ID: "b1", Prompt: "Eres un asistente de ventas", Features: features}
	return lead.NewEngine(bot, s, ex, rp, lead.Options{HistoryWindow: 10}, logger.NewNop()), s
}

func TestQualificationScenario(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExtractor{answers: map[string]model.LeadFields{
		"Hola, soy Ana, ana@x.com": {Name: "Ana", Email: "ana@x.com"},
		"Vivo en Lima":             {Location: "Lima"},
	}}
	rp := &fakeReplier{reply: "¡Hola Ana!"}
	eng, s := newEngine(t, ex, rp)

	out, err := eng.HandleInbound(ctx, lead.Inbound{Address: "5491100", Text: "Hola, soy Ana, ana@x.com"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if out.Lead.Status != model.LeadCapturing || out.Lead.Name != "Ana" || out.Lead.Email != "ana@x.com" || out.Lead.Location != "" {
		t.Fatalf("lead = %+v", out.Lead)
	}
	want := "¡Hola Ana!\n\n" + lead.FollowUpQuestion(model.FieldLocation)
	if out.Reply != want {
		t.Errorf("Reply = %q, want %q", out.Reply, want)
	}
	if out.Qualified || out.ForOperator {
		t.Errorf("unexpected outcome flags %+v", out)
	}

	out, err = eng.HandleInbound(ctx, lead.Inbound{Address: "5491100", Text: "Vivo en Lima"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if !out.Qualified {
		t.Fatal("Qualified = false, want true")
	}
	if out.Lead.Status != model.LeadQualified || out.Lead.Phone != "5491100" {
		t.Errorf("lead = %+v", out.Lead)
	}
	if out.Reply != lead.ClosingMessage {
		t.Errorf("Reply = %q, want closing message", out.Reply)
	}
	if rp.calls != 1 {
		t.Errorf("replier calls = %d, want 1", rp.calls)
	}

	out, err = eng.HandleInbound(ctx, lead.Inbound{Address: "5491100", Text: "¿Hola?"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if out.Qualified || !out.ForOperator || out.Reply != "" {
		t.Errorf("post-qualification outcome = %+v", out)
	}
	if ex.calls != 2 {
		t.Errorf("extractor calls = %d, want 2", ex.calls)
	}

	msgs, err := s.ListMessages(ctx, out.Lead.ID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	// two inbound + reply, inbound + closing, inbound
	if len(msgs) != 5 {
		t.Errorf("messages = %d, want 5", len(msgs))
	}
}

func TestAssignedLeadNeverAutoreplies(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExtractor{answers: map[string]model.LeadFields{
		"todo": {Name: "Ana", Email: "ana@x.com", Location: "Lima"},
	}}
	rp := &fakeReplier{reply: "hola"}
	eng, s := newEngine(t, ex, rp)

	out, err := eng.HandleInbound(ctx, lead.Inbound{Address: "1", Text: "todo"})
	if err != nil || !out.Qualified {
		t.Fatalf("HandleInbound() = %+v, %v", out, err)
	}
	if _, err := s.AssignLead(ctx, out.Lead.ID, "vendor@x.com"); err != nil {
		t.Fatalf("AssignLead() error = %v", err)
	}

	rp.calls = 0
	out, err = eng.HandleInbound(ctx, lead.Inbound{Address: "1", Text: "¿Siguen ahí?"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if !out.ForOperator || out.Reply != "" || rp.calls != 0 {
		t.Errorf("outcome = %+v, replier calls = %d", out, rp.calls)
	}
	if out.Lead.Status != model.LeadAssigned || out.Lead.AssignedTo != "vendor@x.com" {
		t.Errorf("lead = %+v", out.Lead)
	}
}

func TestExtractionFailureAsksFirstMissingField(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExtractor{err: errors.New("timeout")}
	rp := &fakeReplier{err: errors.New("unavailable")}
	eng, _ := newEngine(t, ex, rp)

	out, err := eng.HandleInbound(ctx, lead.Inbound{Address: "1", Text: "Hola"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if out.Lead.Status != model.LeadCapturing {
		t.Errorf("Status = %s, want capturing", out.Lead.Status)
	}
	if out.Reply != lead.FollowUpQuestion(model.FieldName) {
		t.Errorf("Reply = %q, want name question alone", out.Reply)
	}
}

func TestNilCapabilities(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	out, err := eng.HandleInbound(context.Background(), lead.Inbound{Address: "1", Text: "Hola"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if out.Reply != lead.FollowUpQuestion(model.FieldName) {
		t.Errorf("Reply = %q", out.Reply)
	}
}

func TestSharedPhoneIsMerged(t *testing.T) {
	ex := &fakeExtractor{answers: map[string]model.LeadFields{}}
	eng, _ := newEngine(t, ex, nil)
	out, err := eng.HandleInbound(context.Background(), lead.Inbound{Address: "1", Text: "+51999", Phone: "+51999"})
	if err != nil {
		t.Fatalf("HandleInbound() error = %v", err)
	}
	if out.Lead.Phone != "+51999" {
		t.Errorf("Phone = %q", out.Lead.Phone)
	}
}

func TestFeatureFlags(t *testing.T) {
	noAutoResponse := model.DefaultFeatures()
	noAutoResponse.AutoResponseEnabled = false

	noCapture := model.DefaultFeatures()
	noCapture.LeadCaptureEnabled = false

	// An empty window: every moment is outside working hours.
	closed := model.DefaultFeatures()
	closed.WorkingHoursEnabled = true
	closed.WorkingHoursStart, closed.WorkingHoursEnd = "00:00", "00:00"

	tests := []struct {
		name          string
		features      model.BotFeatures
		text          string
		wantStatus    model.LeadStatus
		wantName      string
		wantReply     string
		wantExtracts  int
		wantReplies   int
		wantMessages  int
		wantQualified bool
	}{
		{
			name: "auto response off still extracts", features: noAutoResponse, text: "soy Ana",
			wantStatus: model.LeadCapturing, wantName: "Ana", wantExtracts: 1, wantMessages: 1,
		},
		{
			name: "auto response off skips closing", features: noAutoResponse, text: "todo",
			wantStatus: model.LeadQualified, wantName: "Ana", wantExtracts: 1, wantMessages: 1, wantQualified: true,
		},
		{
			name: "lead capture off replies without question", features: noCapture, text: "todo",
			wantStatus: model.LeadCapturing, wantReply: "hola", wantReplies: 1, wantMessages: 2,
		},
		{
			name: "outside working hours stays silent", features: closed, text: "soy Ana",
			wantStatus: model.LeadCapturing, wantName: "Ana", wantExtracts: 1, wantMessages: 1,
		},
		{
			name: "outside working hours skips closing", features: closed, text: "todo",
			wantStatus: model.LeadQualified, wantName: "Ana", wantExtracts: 1, wantMessages: 1, wantQualified: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ex := &fakeExtractor{answers: map[string]model.LeadFields{
				"soy Ana": {Name: "Ana"},
				"todo":    {Name: "Ana", Email: "ana@x.com", Location: "Lima"},
			}}
			rp := &fakeReplier{reply: "hola"}
			eng, s := newEngineWithFeatures(t, tt.features, ex, rp)

			out, err := eng.HandleInbound(ctx, lead.Inbound{Address: "1", Text: tt.text})
			if err != nil {
				t.Fatalf("HandleInbound() error = %v", err)
			}
			if out.Lead.Status != tt.wantStatus || out.Lead.Name != tt.wantName {
				t.Errorf("lead = %+v", out.Lead)
			}
			if out.Qualified != tt.wantQualified {
				t.Errorf("Qualified = %v, want %v", out.Qualified, tt.wantQualified)
			}
			if out.Reply != tt.wantReply {
				t.Errorf("Reply = %q, want %q", out.Reply, tt.wantReply)
			}
			if ex.calls != tt.wantExtracts || rp.calls != tt.wantReplies {
				t.Errorf("extractor calls = %d, replier calls = %d", ex.calls, rp.calls)
			}
			msgs, err := s.ListMessages(ctx, out.Lead.ID)
			if err != nil {
				t.Fatalf("ListMessages() error = %v", err)
			}
			if len(msgs) != tt.wantMessages {
				t.Errorf("messages = %d, want %d", len(msgs), tt.wantMessages)
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		raw  string
		want model.LeadFields
	}{
		{`{"name":"Ana"}`, model.LeadFields{Name: "Ana"}},
		{"```json\n{\"email\":\"a@x.com\"}\n```", model.LeadFields{Email: "a@x.com"}},
		{"no json here", model.LeadFields{}},
		{"", model.LeadFields{}},
	}
	for _, tt := range tests {
		if got := lead.ParseFields(tt.raw); got != tt.want {
			t.Errorf("ParseFields(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}
