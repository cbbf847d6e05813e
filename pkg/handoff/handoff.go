// Package handoff escalates a live conversation to a human: either a live
// transfer to an available agent or a fallback ticket carrying the
// transcript. Every escalation resolves to a terminal outcome.
package handoff

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voicebridge/pkg/provider"
)

// Reason identifies what triggered an escalation.
type Reason string

const (
	ReasonKeyword           Reason = "keyword"
	ReasonTurnLimit         Reason = "turn_limit"
	ReasonDurationLimit     Reason = "duration_limit"
	ReasonExplicit          Reason = "explicit"
	ReasonProviderExhausted Reason = "provider_exhausted"
)

// Result is the terminal state of a handoff attempt.
type Result string

const (
	ResultTransferred   Result = "transferred"
	ResultTicketCreated Result = "ticket_created"
	// ResultFailed means even ticket creation errored. It is still terminal;
	// the caller gets a closing message and the failure is logged for audit.
	ResultFailed Result = "failed"
)

// Trigger is the session-side view of an escalation condition.
type Trigger struct {
	Reason       Reason
	CallID       string
	TenantID     string
	Caller       string
	Transcript   []provider.TranscriptEntry
	RecordingURL string
}

// Request is one escalation attempt. Immutable after resolution.
type Request struct {
	ID           string
	CallID       string
	TenantID     string
	Caller       string
	Reason       Reason
	Transcript   []provider.TranscriptEntry
	RecordingURL string
	TargetQueue  string
	CreatedAt    time.Time
}

// Outcome records how a Request resolved.
type Outcome struct {
	Result      Result
	Destination string // agent destination when transferred
	TicketID    string // ticket id when ticket_created
	Err         error  // underlying error for failed outcomes
	ResolvedAt  time.Time
}

// Config is the per-tenant handoff policy.
type Config struct {
	// Keywords escalate when matched against a final caller transcript.
	Keywords []string `json:"keywords" yaml:"keywords"`

	// TargetQueue selects which agent pool presence is queried against.
	TargetQueue string `json:"target_queue" yaml:"target_queue"`

	// TransferTimeout bounds the hold-announce-transfer sequence.
	TransferTimeout time.Duration `json:"transfer_timeout" yaml:"transfer_timeout"`

	// AnnouncementURL is a pre-rendered audio file played to the caller
	// before the transfer. Optional.
	AnnouncementURL string `json:"announcement_url,omitempty" yaml:"announcement_url,omitempty"`

	// ClosingMessage is spoken to the caller when the session ends with a
	// ticket instead of a transfer.
	ClosingMessage string `json:"closing_message,omitempty" yaml:"closing_message,omitempty"`

	Hours BusinessHours `json:"business_hours" yaml:"business_hours"`
}

// DefaultConfig returns a handoff policy with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TransferTimeout: 30 * time.Second,
		ClosingMessage:  "I've created a ticket for our team and someone will follow up with you shortly. Thank you for calling.",
	}
}

// NewRequest snapshots a trigger into an immutable escalation request.
func NewRequest(t Trigger, targetQueue string) Request {
	transcript := make([]provider.TranscriptEntry, len(t.Transcript))
	copy(transcript, t.Transcript)
	return Request{
		ID:           uuid.NewString(),
		CallID:       t.CallID,
		TenantID:     t.TenantID,
		Caller:       t.Caller,
		Reason:       t.Reason,
		Transcript:   transcript,
		RecordingURL: t.RecordingURL,
		TargetQueue:  targetQueue,
		CreatedAt:    time.Now(),
	}
}
