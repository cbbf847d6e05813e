package bridge

import "time"

// TurnEventKind classifies a turn-taking transition.
type TurnEventKind int

const (
	// KindSpeechStarted means the caller began speaking.
	KindSpeechStarted TurnEventKind = iota
	// KindSpeechStopped means the caller fell silent long enough to end a turn.
	KindSpeechStopped
	// KindAgentSpeaking means agent audio started flowing toward the caller.
	KindAgentSpeaking
	// KindAgentDone means the agent finished (or was cut off mid) response.
	KindAgentDone
)

// String returns a human-readable event kind.
func (k TurnEventKind) String() string {
	switch k {
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechStopped:
		return "speech_stopped"
	case KindAgentSpeaking:
		return "agent_speaking"
	case KindAgentDone:
		return "agent_done"
	default:
		return "UNKNOWN"
	}
}

// TurnEvent is one turn-taking transition with its timestamp. Drives
// barge-in cancellation and the session's escalation timers.
type TurnEvent struct {
	Kind TurnEventKind
	At   time.Time
}
