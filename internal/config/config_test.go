package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "")
	t.Setenv("HISTORY_WINDOW", "")
	t.Setenv("AUDIT_RETENTION", "")

	cfg := Load()
	if cfg.SchedulerInterval != 30*time.Second {
		t.Errorf("SchedulerInterval = %v, want 30s", cfg.SchedulerInterval)
	}
	if cfg.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want 2s", cfg.RestartDelay)
	}
	if cfg.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want 10", cfg.HistoryWindow)
	}
	if cfg.AuditRetention != 90*24*time.Hour {
		t.Errorf("AuditRetention = %v, want 90 days", cfg.AuditRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "5s")
	t.Setenv("ADMIN_EMAILS", " Boss@x.com, ,ops@x.com")
	t.Setenv("HISTORY_WINDOW", "not-a-number")
	t.Setenv("AUDIT_RETENTION", "720h")

	cfg := Load()
	if cfg.SchedulerInterval != 5*time.Second {
		t.Errorf("SchedulerInterval = %v, want 5s", cfg.SchedulerInterval)
	}
	if cfg.HistoryWindow != 10 {
		t.Errorf("HistoryWindow = %d, want fallback 10", cfg.HistoryWindow)
	}
	if cfg.AuditRetention != 720*time.Hour {
		t.Errorf("AuditRetention = %v, want 720h", cfg.AuditRetention)
	}
	want := []string{"boss@x.com", "ops@x.com"}
	if len(cfg.AdminEmails) != len(want) {
		t.Fatalf("AdminEmails = %v, want %v", cfg.AdminEmails, want)
	}
	for i := range want {
		if cfg.AdminEmails[i] != want[i] {
			t.Errorf("AdminEmails[%d] = %q, want %q", i, cfg.AdminEmails[i], want[i])
		}
	}
}
