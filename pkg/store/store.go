// Package store provides tenant configuration lookup and conversation
// persistence. Two implementations: Postgres for production, a YAML file
// for dev and single-node deployments. Tenant configuration is load-once
// read-many; nothing here mutates it after load.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/handoff"
	"github.com/voxlane/voicebridge/pkg/provider"
	"github.com/voxlane/voicebridge/pkg/records"
)

// ErrTenantNotFound is returned when no tenant matches the lookup id.
var ErrTenantNotFound = errors.New("tenant not found")

// Limits bounds one conversation.
type Limits struct {
	// MaxTurns escalates after this many caller turns. Zero disables.
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	// MaxDuration escalates after this much elapsed call time. Zero disables.
	MaxDuration time.Duration `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
}

// AudioPrefs is the tenant's wire-side audio preference.
type AudioPrefs struct {
	Encoding     audio.Encoding `json:"encoding" yaml:"encoding"`
	SampleRateHz int            `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	FrameMs      int            `json:"frame_ms,omitempty" yaml:"frame_ms,omitempty"`
	EchoCancel   bool           `json:"echo_cancel" yaml:"echo_cancel"`
}

// TenantConfig is everything the bridge needs to run one tenant's calls.
type TenantConfig struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`

	// Greeting is spoken by the agent when the call connects.
	Greeting string `json:"greeting,omitempty" yaml:"greeting,omitempty"`

	// Providers is the ordered fallback list. The first entry is primary.
	Providers []provider.Config `json:"providers" yaml:"providers"`

	Handoff handoff.Config `json:"handoff" yaml:"handoff"`
	Audio   AudioPrefs     `json:"audio" yaml:"audio"`
	Limits  Limits         `json:"limits" yaml:"limits"`
}

// Validate rejects broken tenant configuration at load time so sessions
// never start against it.
func (t TenantConfig) Validate() error {
	if t.TenantID == "" {
		return errors.New("tenant missing tenant_id")
	}
	if len(t.Providers) == 0 {
		return fmt.Errorf("tenant %s: no providers configured", t.TenantID)
	}
	for i, p := range t.Providers {
		if !provider.Known(p.Type) {
			return fmt.Errorf("tenant %s: provider %d: unknown type %q", t.TenantID, i, p.Type)
		}
		if p.APIKey == "" {
			return fmt.Errorf("tenant %s: provider %d (%s): missing api key", t.TenantID, i, p.Type)
		}
	}
	if t.Audio.SampleRateHz != 0 {
		f := audio.Format{Encoding: t.Audio.Encoding, SampleRateHz: t.Audio.SampleRateHz, Channels: 1}
		if err := audio.Validate(f); err != nil {
			return fmt.Errorf("tenant %s: %w", t.TenantID, err)
		}
	}
	if err := t.Handoff.Hours.Validate(); err != nil {
		return fmt.Errorf("tenant %s: %w", t.TenantID, err)
	}
	return nil
}

// TenantSource is the read side used by the session supervisor.
type TenantSource interface {
	Tenant(ctx context.Context, tenantID string) (TenantConfig, error)
}

// Store is the full persistence surface.
type Store interface {
	TenantSource
	SaveConversation(ctx context.Context, rec records.Conversation) error
	Close()
}
