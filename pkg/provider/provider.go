// Package provider defines the normalized session protocol every AI
// conversational backend is adapted to: connect, stream audio both ways,
// exchange control events, close. The call session treats adapters as one
// polymorphic capability; everything provider-specific lives behind the
// Adapter interface in the per-provider subpackages.
package provider

import (
	"context"
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
)

// Type identifies a provider implementation. The set is closed: adding a
// provider means adding a variant here and an adapter package, never
// branching on free-form strings inside session logic.
type Type string

const (
	TypeOpenAIRealtime Type = "openai_realtime"
	TypeGeminiLive     Type = "gemini_live"
	TypeDeepgramAgent  Type = "deepgram_agent"
	TypePipeline       Type = "pipeline"
)

// Known reports whether t is one of the closed set of provider types.
func Known(t Type) bool {
	switch t {
	case TypeOpenAIRealtime, TypeGeminiLive, TypeDeepgramAgent, TypePipeline:
		return true
	default:
		return false
	}
}

// TurnDetectionMode selects who segments caller turns.
type TurnDetectionMode string

const (
	// TurnDetectServer delegates turn segmentation to the provider's own
	// semantic/server VAD; the local detector then only handles barge-in.
	TurnDetectServer TurnDetectionMode = "server"
	// TurnDetectLocal runs full energy-based turn segmentation in the bridge.
	TurnDetectLocal TurnDetectionMode = "local"
)

// Sensitivity trades patience for responsiveness in turn detection.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// TurnDetection is the generic turn-detection configuration each adapter
// translates into provider-specific parameters.
type TurnDetection struct {
	Mode        TurnDetectionMode `json:"mode" yaml:"mode"`
	Sensitivity Sensitivity       `json:"sensitivity" yaml:"sensitivity"`

	// EnergyThreshold and SilenceDurationMs override the sensitivity preset
	// when non-zero. Tenant-tunable; there is no canonical default beyond
	// the presets.
	EnergyThreshold   float64 `json:"energy_threshold,omitempty" yaml:"energy_threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty" yaml:"silence_duration_ms,omitempty"`
}

// TranscriptEntry is one finalized utterance of the conversation, carried
// across reconnects and fallbacks so context survives where the protocol
// allows.
type TranscriptEntry struct {
	Role string    `json:"role"` // "caller" or "agent"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Config is the per-tenant, per-provider configuration for one adapter
// instance. Read-only after load; one instance per call session.
type Config struct {
	Type         Type          `json:"type" yaml:"type"`
	APIKey       string        `json:"api_key" yaml:"api_key"`
	Model        string        `json:"model,omitempty" yaml:"model,omitempty"`
	Voice        string        `json:"voice,omitempty" yaml:"voice,omitempty"`
	Language     string        `json:"language,omitempty" yaml:"language,omitempty"`
	Instructions string        `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Greeting     string        `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	TurnDetect   TurnDetection `json:"turn_detection" yaml:"turn_detection"`

	BargeInEnabled bool `json:"barge_in_enabled" yaml:"barge_in_enabled"`
	AdaptiveWarmup bool `json:"adaptive_warmup" yaml:"adaptive_warmup"`

	// BaseURL overrides the provider endpoint (tests, proxies).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// ConnectTimeout bounds the initial connect; zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`

	// History seeds the provider with prior conversation turns on reconnect
	// or fallback.
	History []TranscriptEntry `json:"-" yaml:"-"`
}

// DefaultConnectTimeout bounds adapter connects when Config.ConnectTimeout
// is unset.
const DefaultConnectTimeout = 5 * time.Second

// Adapter is the capability every provider implementation exposes to the
// call session. Implementations own one upstream connection; SendAudio and
// SendControl may be called from the session loop only, while Events is
// consumed concurrently.
type Adapter interface {
	// Type returns the adapter's variant tag.
	Type() Type

	// Connect establishes the provider session. It must respect the config's
	// connect timeout and return before streaming begins.
	Connect(ctx context.Context) error

	// Format declares the audio the adapter requires as input and produces
	// as output. The codec layer is configured from this before the first
	// frame; both formats must validate at session setup.
	Format() (in, out audio.Format)

	// MaxSessionDuration is the provider-imposed hard session lifetime, or 0
	// if unlimited. The session schedules a reconnect before this is hit.
	MaxSessionDuration() time.Duration

	// SendAudio forwards one frame of caller audio in the adapter's declared
	// input format.
	SendAudio(pcm []byte) error

	// SendControl delivers a control message (cancel, speak, commit).
	SendControl(ctl Control) error

	// Events is the stream of provider-agnostic events. It is closed when
	// the adapter shuts down; a terminal ErrorEvent precedes the close on
	// failure.
	Events() <-chan Event

	// Close tears down the upstream connection. Safe to call more than once.
	Close() error
}

// Factory builds an adapter for a config. The session supervisor is handed a
// Factory at startup so session logic never names concrete adapter types.
type Factory func(cfg Config) (Adapter, error)

// Control is a session-to-provider control message.
type Control interface {
	controlMessage()
}

// CancelControl aborts the in-flight agent response (barge-in).
type CancelControl struct{}

// SpeakControl requests the agent say the given text verbatim (greeting,
// transfer announcement, closing message).
type SpeakControl struct {
	Text string
}

// CommitControl marks the end of a caller turn for adapters that rely on
// local turn detection.
type CommitControl struct{}

func (CancelControl) controlMessage() {}
func (SpeakControl) controlMessage()  {}
func (CommitControl) controlMessage() {}
