package nats

import (
	"testing"

	"github.com/capitalize-ai/lead-fleet/internal/model"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		botID string
		typ   model.EventType
		want  string
	}{
		{"ventas", model.EventLeadQualified, "fleet.ventas.lead_qualified"},
		{"a.b*c", model.EventBotUpdated, "fleet.a_b_c.bot_updated"},
		{"", model.EventError, "fleet._.error"},
	}
	for _, tt := range tests {
		if got := EventSubject(tt.botID, tt.typ); got != tt.want {
			t.Errorf("EventSubject(%q) = %q, want %q", tt.botID, got, tt.want)
		}
	}
	if got := BotFilter("x>y"); got != "fleet.x_y.>" {
		t.Errorf("BotFilter() = %q", got)
	}
}

func TestConnectOptions(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		extra   int
		wantErr bool
	}{
		{"plain", Config{URL: "nats://localhost:4222"}, 0, false},
		{"token", Config{Token: "s3cret"}, 1, false},
		{"mutual tls", Config{CAFile: "ca.pem", CertFile: "c.pem", KeyFile: "k.pem"}, 2, false},
		{"server ca only", Config{CAFile: "ca.pem"}, 1, false},
		{"cert without key", Config{CertFile: "c.pem"}, 0, true},
		{"key without cert", Config{KeyFile: "k.pem"}, 0, true},
	}
	base, err := connectOptions(Config{}, logger.NewNop())
	if err != nil {
		t.Fatalf("connectOptions() error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := connectOptions(tt.cfg, logger.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("connectOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(opts) != len(base)+tt.extra {
				t.Errorf("options = %d, want %d", len(opts), len(base)+tt.extra)
			}
		})
	}
}
