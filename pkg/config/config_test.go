package config

import (
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"VOICEBRIDGE_ADDR",
	"VOICEBRIDGE_MEDIA_PATH",
	"VOICEBRIDGE_READ_HEADER_TIMEOUT",
	"VOICEBRIDGE_WS_WRITE_TIMEOUT",
	"VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD",
	"VOICEBRIDGE_TENANT_STORE",
	"VOICEBRIDGE_TENANT_FILE",
	"VOICEBRIDGE_DATABASE_URL",
	"VOICEBRIDGE_CONTROL_BASE_URL",
	"VOICEBRIDGE_CONTROL_TOKEN",
	"VOICEBRIDGE_CONTROL_TIMEOUT",
	"VOICEBRIDGE_PRESENCE_BASE_URL",
	"VOICEBRIDGE_PRESENCE_TOKEN",
	"VOICEBRIDGE_TICKET_BASE_URL",
	"VOICEBRIDGE_TICKET_TOKEN",
	"VOICEBRIDGE_KAFKA_BROKERS",
	"VOICEBRIDGE_KAFKA_TOPIC",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.MediaPath != "/media" {
		t.Errorf("Addr = %q MediaPath = %q", cfg.Addr, cfg.MediaPath)
	}
	if cfg.TenantStore != TenantStoreFile || cfg.TenantFile != "tenants.yaml" {
		t.Errorf("tenant store = %v %q", cfg.TenantStore, cfg.TenantFile)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Errorf("WSWriteTimeout = %v", cfg.WSWriteTimeout)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOICEBRIDGE_ADDR", ":9000")
	t.Setenv("VOICEBRIDGE_TENANT_STORE", "postgres")
	t.Setenv("VOICEBRIDGE_DATABASE_URL", "postgres://localhost/vb")
	t.Setenv("VOICEBRIDGE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("VOICEBRIDGE_WS_WRITE_TIMEOUT", "2s")
	t.Setenv("VOICEBRIDGE_CONTROL_TIMEOUT", "2500")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.TenantStore != TenantStorePostgres {
		t.Errorf("TenantStore = %v", cfg.TenantStore)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.WSWriteTimeout != 2*time.Second {
		t.Errorf("WSWriteTimeout = %v", cfg.WSWriteTimeout)
	}
	// Bare integers are milliseconds.
	if cfg.ControlTimeout != 2500*time.Millisecond {
		t.Errorf("ControlTimeout = %v", cfg.ControlTimeout)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown tenant store",
			env:  map[string]string{"VOICEBRIDGE_TENANT_STORE": "etcd"},
			want: "VOICEBRIDGE_TENANT_STORE",
		},
		{
			name: "postgres without dsn",
			env:  map[string]string{"VOICEBRIDGE_TENANT_STORE": "postgres"},
			want: "VOICEBRIDGE_DATABASE_URL",
		},
		{
			name: "relative media path",
			env:  map[string]string{"VOICEBRIDGE_MEDIA_PATH": "media"},
			want: "VOICEBRIDGE_MEDIA_PATH",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
