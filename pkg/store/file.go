package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/voxlane/voicebridge/pkg/records"
)

// FileStore serves tenant configuration from a YAML file. Conversations are
// kept in memory; it is a dev and single-node store, not durable storage.
type FileStore struct {
	tenants map[string]TenantConfig

	mu            sync.Mutex
	conversations []records.Conversation
}

type tenantFile struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// NewFileStore loads and validates every tenant in the file. Fails on the
// first invalid tenant so a bad deploy is caught at startup.
func NewFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}

	var f tenantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tenant file %s: %w", path, err)
	}

	tenants := make(map[string]TenantConfig, len(f.Tenants))
	for _, t := range f.Tenants {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tenant file %s: %w", path, err)
		}
		if _, dup := tenants[t.TenantID]; dup {
			return nil, fmt.Errorf("tenant file %s: duplicate tenant %s", path, t.TenantID)
		}
		tenants[t.TenantID] = t
	}
	return &FileStore{tenants: tenants}, nil
}

// Tenant implements TenantSource.
func (s *FileStore) Tenant(ctx context.Context, tenantID string) (TenantConfig, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return TenantConfig{}, fmt.Errorf("tenant %q: %w", tenantID, ErrTenantNotFound)
	}
	return t, nil
}

// SaveConversation implements Store.
func (s *FileStore) SaveConversation(ctx context.Context, rec records.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, rec)
	return nil
}

// Conversations returns the records saved so far.
func (s *FileStore) Conversations() []records.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]records.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Close implements Store.
func (s *FileStore) Close() {}
