package bridge

import (
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
)

// SessionConfig is the per-call configuration a session is built with.
// Read-only after construction.
type SessionConfig struct {
	CallID   string
	TenantID string
	Caller   string

	// WireFormat is the telephony-side audio contract from the start frame.
	WireFormat audio.Format
	FrameMs    int

	// Greeting is spoken by the agent as soon as the session goes active.
	Greeting string

	// EchoCancel enables the NLMS canceller on the inbound path.
	EchoCancel bool

	// Keywords escalate to a human when matched in a final caller turn.
	Keywords []string

	// MaxTurns and MaxDuration escalate when exceeded. Zero disables.
	MaxTurns    int
	MaxDuration time.Duration

	// WarmupMs sizes the adaptive warm-up buffer.
	WarmupMs int

	// ExpiryLead is how far ahead of the provider's session deadline the
	// proactive reconnect is scheduled.
	ExpiryLead time.Duration

	// RecordingURL is the call recording reference from the start frame,
	// carried into tickets and conversation records.
	RecordingURL string

	// QueueDepth bounds the inbound and outbound frame queues.
	QueueDepth int
}

// Session defaults.
const (
	DefaultWarmupMs   = 250
	DefaultExpiryLead = 30 * time.Second
	DefaultQueueDepth = 50
)

// withDefaults fills unset fields.
func (c SessionConfig) withDefaults() SessionConfig {
	if c.FrameMs <= 0 {
		c.FrameMs = 20
	}
	if c.WarmupMs <= 0 {
		c.WarmupMs = DefaultWarmupMs
	}
	if c.ExpiryLead <= 0 {
		c.ExpiryLead = DefaultExpiryLead
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	return c
}
