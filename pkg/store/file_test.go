package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxlane/voicebridge/pkg/records"
)

const tenantYAML = `
tenants:
  - tenant_id: acme
    name: Acme Support
    greeting: "Thanks for calling Acme, how can I help?"
    providers:
      - type: gemini_live
        api_key: key-gemini
        model: gemini-2.0-flash-live-001
        turn_detection:
          mode: server
          sensitivity: medium
        barge_in_enabled: true
      - type: pipeline
        api_key: key-openai
        model: gpt-4o-mini
    handoff:
      keywords: ["human", "representative"]
      target_queue: support
      transfer_timeout: 30s
      business_hours:
        timezone: America/New_York
        windows:
          - weekday: 1
            start: "09:00"
            end: "17:00"
    audio:
      encoding: mulaw
      sample_rate_hz: 8000
      echo_cancel: true
    limits:
      max_turns: 50
`

func writeTenantFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileStoreLoadsTenant(t *testing.T) {
	s, err := NewFileStore(writeTenantFile(t, tenantYAML))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	cfg, err := s.Tenant(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Tenant() error = %v", err)
	}
	if cfg.Name != "Acme Support" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("Providers = %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].Type != "gemini_live" || !cfg.Providers[0].BargeInEnabled {
		t.Errorf("primary provider = %+v", cfg.Providers[0])
	}
	if cfg.Handoff.TransferTimeout != 30*time.Second {
		t.Errorf("TransferTimeout = %v", cfg.Handoff.TransferTimeout)
	}
	if len(cfg.Handoff.Hours.Windows) != 1 || cfg.Handoff.Hours.Windows[0].Weekday != time.Monday {
		t.Errorf("business hours = %+v", cfg.Handoff.Hours)
	}
	if cfg.Limits.MaxTurns != 50 {
		t.Errorf("MaxTurns = %d", cfg.Limits.MaxTurns)
	}
}

func TestFileStoreUnknownTenant(t *testing.T) {
	s, err := NewFileStore(writeTenantFile(t, tenantYAML))
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Tenant(context.Background(), "nope")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("error = %v, want ErrTenantNotFound", err)
	}
}

func TestFileStoreRejectsInvalidTenant(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no providers", `
tenants:
  - tenant_id: acme
    providers: []
`},
		{"unknown provider type", `
tenants:
  - tenant_id: acme
    providers:
      - type: mystery
        api_key: k
`},
		{"missing api key", `
tenants:
  - tenant_id: acme
    providers:
      - type: gemini_live
`},
		{"duplicate tenant", tenantYAML + `
  - tenant_id: acme
    providers:
      - type: pipeline
        api_key: k
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFileStore(writeTenantFile(t, tt.yaml)); err == nil {
				t.Error("NewFileStore() accepted invalid config")
			}
		})
	}
}

func TestFileStoreSaveConversation(t *testing.T) {
	s, err := NewFileStore(writeTenantFile(t, tenantYAML))
	if err != nil {
		t.Fatal(err)
	}
	rec := records.Conversation{CallID: "CA1", TenantID: "acme", Outcome: records.OutcomeCompleted}
	if err := s.SaveConversation(context.Background(), rec); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	got := s.Conversations()
	if len(got) != 1 || got[0].CallID != "CA1" {
		t.Errorf("Conversations() = %+v", got)
	}
}
