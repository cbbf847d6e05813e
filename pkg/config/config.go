// Package config loads service configuration from the environment. Every
// knob has a VOICEBRIDGE_ variable and a sensible default; validation fails
// fast at startup rather than at first use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TenantStoreKind selects where tenant configuration lives.
type TenantStoreKind string

const (
	TenantStoreFile     TenantStoreKind = "file"
	TenantStorePostgres TenantStoreKind = "postgres"
)

type Config struct {
	Addr      string
	MediaPath string

	ReadHeaderTimeout   time.Duration
	WSWriteTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Tenant store backing. File mode reads TenantFile; postgres mode uses
	// DatabaseURL and persists conversation records there too.
	TenantStore TenantStoreKind
	TenantFile  string
	DatabaseURL string

	// Telephony platform REST control plane (hold, transfer, bridge).
	ControlBaseURL string
	ControlToken   string
	ControlTimeout time.Duration

	// Agent presence service for handoff routing.
	PresenceBaseURL string
	PresenceToken   string

	// Ticketing system for the handoff fallback path.
	TicketBaseURL string
	TicketToken   string

	// Conversation record publishing. With no brokers configured records
	// are logged only.
	KafkaBrokers []string
	KafkaTopic   string
}

// LoadFromEnv reads and validates the full configuration.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEBRIDGE_ADDR", ":8080"),
		MediaPath:           envOr("VOICEBRIDGE_MEDIA_PATH", "/media"),
		ReadHeaderTimeout:   envDurationOr("VOICEBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		WSWriteTimeout:      envDurationOr("VOICEBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		TenantStore:         TenantStoreKind(envOr("VOICEBRIDGE_TENANT_STORE", string(TenantStoreFile))),
		TenantFile:          envOr("VOICEBRIDGE_TENANT_FILE", "tenants.yaml"),
		DatabaseURL:         envOr("VOICEBRIDGE_DATABASE_URL", ""),
		ControlBaseURL:      envOr("VOICEBRIDGE_CONTROL_BASE_URL", ""),
		ControlToken:        envOr("VOICEBRIDGE_CONTROL_TOKEN", ""),
		ControlTimeout:      envDurationOr("VOICEBRIDGE_CONTROL_TIMEOUT", 10*time.Second),
		PresenceBaseURL:     envOr("VOICEBRIDGE_PRESENCE_BASE_URL", ""),
		PresenceToken:       envOr("VOICEBRIDGE_PRESENCE_TOKEN", ""),
		TicketBaseURL:       envOr("VOICEBRIDGE_TICKET_BASE_URL", ""),
		TicketToken:         envOr("VOICEBRIDGE_TICKET_TOKEN", ""),
		KafkaBrokers:        splitCSV(os.Getenv("VOICEBRIDGE_KAFKA_BROKERS")),
		KafkaTopic:          envOr("VOICEBRIDGE_KAFKA_TOPIC", "voicebridge.conversations"),
	}

	switch cfg.TenantStore {
	case TenantStoreFile, TenantStorePostgres:
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_TENANT_STORE must be one of file|postgres")
	}
	if cfg.TenantStore == TenantStoreFile && strings.TrimSpace(cfg.TenantFile) == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_TENANT_FILE must be set when VOICEBRIDGE_TENANT_STORE=file")
	}
	if cfg.TenantStore == TenantStorePostgres && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_DATABASE_URL must be set when VOICEBRIDGE_TENANT_STORE=postgres")
	}
	if !strings.HasPrefix(cfg.MediaPath, "/") {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MEDIA_PATH must start with /")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.ControlTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CONTROL_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	// Accept bare integers as milliseconds for parity with the telephony
	// platform's own config conventions.
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
