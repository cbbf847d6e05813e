package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/records"
)

// PGStore is the Postgres-backed store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects a pool and verifies the database is reachable.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Tenant implements TenantSource. The tenant row carries the policy blobs;
// provider configs live in their own table, ordered by fallback position.
func (s *PGStore) Tenant(ctx context.Context, tenantID string) (TenantConfig, error) {
	t := TenantConfig{TenantID: tenantID}

	var handoffJSON, audioJSON, limitsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT name, greeting, handoff, audio, limits
		FROM tenants
		WHERE tenant_id = $1`, tenantID,
	).Scan(&t.Name, &t.Greeting, &handoffJSON, &audioJSON, &limitsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantConfig{}, fmt.Errorf("tenant %q: %w", tenantID, ErrTenantNotFound)
	}
	if err != nil {
		return TenantConfig{}, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	if err := json.Unmarshal(handoffJSON, &t.Handoff); err != nil {
		return TenantConfig{}, fmt.Errorf("tenant %s handoff config: %w", tenantID, err)
	}
	if err := json.Unmarshal(audioJSON, &t.Audio); err != nil {
		return TenantConfig{}, fmt.Errorf("tenant %s audio config: %w", tenantID, err)
	}
	if err := json.Unmarshal(limitsJSON, &t.Limits); err != nil {
		return TenantConfig{}, fmt.Errorf("tenant %s limits: %w", tenantID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT config
		FROM provider_configs
		WHERE tenant_id = $1
		ORDER BY position`, tenantID)
	if err != nil {
		return TenantConfig{}, fmt.Errorf("load providers for %s: %w", tenantID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return TenantConfig{}, fmt.Errorf("scan provider config: %w", err)
		}
		var cfg provider.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return TenantConfig{}, fmt.Errorf("tenant %s provider config: %w", tenantID, err)
		}
		t.Providers = append(t.Providers, cfg)
	}
	if err := rows.Err(); err != nil {
		return TenantConfig{}, fmt.Errorf("load providers for %s: %w", tenantID, err)
	}

	if err := t.Validate(); err != nil {
		return TenantConfig{}, err
	}
	return t, nil
}

// SaveConversation implements Store.
func (s *PGStore) SaveConversation(ctx context.Context, rec records.Conversation) error {
	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript for %s: %w", rec.CallID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations
			(call_id, tenant_id, caller, provider, started_at, ended_at,
			 turns, transcript, outcome, ticket_id, recording_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.CallID, rec.TenantID, rec.Caller, string(rec.Provider),
		rec.StartedAt, rec.EndedAt, rec.Turns, transcript,
		rec.Outcome, nullable(rec.TicketID), nullable(rec.RecordingURL))
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", rec.CallID, err)
	}
	return nil
}

// Close implements Store.
func (s *PGStore) Close() {
	s.pool.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
