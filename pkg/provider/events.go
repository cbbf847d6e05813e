package provider

import (
	"encoding/json"
	"time"
)

// Event is a provider-agnostic event surfaced to the call session. The set
// is closed; adapters map their wire protocols onto these and nothing else.
type Event interface {
	providerEvent()
}

// AudioEvent carries one chunk of agent audio in the adapter's declared
// output format.
type AudioEvent struct {
	Data []byte
}

// TranscriptEvent carries transcription text for either party. Final
// entries are appended to the session transcript and drive keyword
// escalation.
type TranscriptEvent struct {
	Role  string // "caller" or "agent"
	Text  string
	Final bool
}

// ToolCallEvent surfaces a provider-emitted function/tool call.
type ToolCallEvent struct {
	ID   string
	Name string
	Args json.RawMessage
}

// SpeechStartedEvent reports provider-side VAD detecting caller speech.
type SpeechStartedEvent struct{}

// SpeechStoppedEvent reports provider-side VAD detecting end of caller
// speech.
type SpeechStoppedEvent struct{}

// TurnStartedEvent marks the start of an agent response.
type TurnStartedEvent struct{}

// TurnDoneEvent marks the completion of an agent response; the session's
// turn counter advances on it.
type TurnDoneEvent struct {
	Interrupted bool
}

// ExpiryWarningEvent tells the session the provider will terminate the
// connection soon; a reconnect should be scheduled before Deadline.
type ExpiryWarningEvent struct {
	Deadline time.Time
}

// ErrorEvent reports an adapter error. Fatal errors trigger provider
// fallback; transient ones were already retried inside the adapter.
type ErrorEvent struct {
	Err   error
	Fatal bool
}

func (AudioEvent) providerEvent()         {}
func (TranscriptEvent) providerEvent()    {}
func (ToolCallEvent) providerEvent()      {}
func (SpeechStartedEvent) providerEvent() {}
func (SpeechStoppedEvent) providerEvent() {}
func (TurnStartedEvent) providerEvent()   {}
func (TurnDoneEvent) providerEvent()      {}
func (ExpiryWarningEvent) providerEvent() {}
func (ErrorEvent) providerEvent()         {}
