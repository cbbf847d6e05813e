// Package records defines the conversation record emitted at session end
// and its Kafka publisher. The bridge appends records; it does not own the
// downstream schema.
package records

import (
	"time"

	"github.com/voxlane/voicebridge/pkg/provider"
)

// Conversation is the session-end record: who talked, for how long, what
// was said, and how it ended.
type Conversation struct {
	CallID       string                     `json:"call_id"`
	TenantID     string                     `json:"tenant_id"`
	Caller       string                     `json:"caller,omitempty"`
	Provider     provider.Type              `json:"provider"`
	StartedAt    time.Time                  `json:"started_at"`
	EndedAt      time.Time                  `json:"ended_at"`
	Turns        int                        `json:"turns"`
	Transcript   []provider.TranscriptEntry `json:"transcript"`
	Outcome      string                     `json:"outcome"`
	TicketID     string                     `json:"ticket_id,omitempty"`
	RecordingURL string                     `json:"recording_url,omitempty"`
	Fallbacks    int                        `json:"fallbacks"`
	Reconnects   int                        `json:"reconnects"`
}

// Duration is the wall-clock call length.
func (c Conversation) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// Outcome values for Conversation.Outcome.
const (
	OutcomeCompleted     = "completed"
	OutcomeTransferred   = "transferred"
	OutcomeTicketCreated = "ticket_created"
	OutcomeHangup        = "hangup"
	OutcomeError         = "error"
)
