package bridge

import (
	"time"

	"github.com/voxlane/voicebridge/pkg/audio"
	"github.com/voxlane/voicebridge/pkg/provider"
)

// DetectorConfig tunes the energy VAD. Thresholds are tenant-tunable; the
// sensitivity presets trade patience for responsiveness.
type DetectorConfig struct {
	// FrameMs is the duration of each frame fed to ProcessFrame.
	FrameMs int

	// EnergyThreshold is the RMS level (0..1) separating speech from silence.
	EnergyThreshold float64

	// SilenceDurationMs is how long the caller must stay quiet before the
	// turn is declared over.
	SilenceDurationMs int
}

// Sensitivity presets. Low is patient with slow talkers, high commits turns
// quickly at the cost of clipping trailing words.
func presetFor(s provider.Sensitivity) (threshold float64, silenceMs int) {
	switch s {
	case provider.SensitivityLow:
		return 0.015, 900
	case provider.SensitivityHigh:
		return 0.04, 350
	default:
		return 0.025, 600
	}
}

// DetectorConfigFor resolves a tenant's turn-detection settings into
// concrete detector parameters. Explicit overrides beat the preset.
func DetectorConfigFor(td provider.TurnDetection, frameMs int) DetectorConfig {
	threshold, silenceMs := presetFor(td.Sensitivity)
	if td.EnergyThreshold > 0 {
		threshold = td.EnergyThreshold
	}
	if td.SilenceDurationMs > 0 {
		silenceMs = td.SilenceDurationMs
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	return DetectorConfig{
		FrameMs:           frameMs,
		EnergyThreshold:   threshold,
		SilenceDurationMs: silenceMs,
	}
}

// TurnDetector classifies caller frames as speech or silence and emits
// turn events. Speech onset is reported on the first frame over threshold
// so barge-in cancellation stays within one frame of latency; the stop edge
// waits out SilenceDurationMs so mid-sentence pauses don't end the turn.
//
// When the provider runs its own turn detection the session ignores the
// stop edge and uses only the onset for barge-in.
type TurnDetector struct {
	cfg       DetectorConfig
	inSpeech  bool
	silenceMs int
}

// NewTurnDetector builds a detector; one per session, single-goroutine use.
func NewTurnDetector(cfg DetectorConfig) *TurnDetector {
	return &TurnDetector{cfg: cfg}
}

// ProcessFrame consumes one linear PCM frame and returns any transitions
// it caused.
func (d *TurnDetector) ProcessFrame(pcm []int16, at time.Time) []TurnEvent {
	var events []TurnEvent

	if audio.RMSEnergy(pcm) >= d.cfg.EnergyThreshold {
		d.silenceMs = 0
		if !d.inSpeech {
			d.inSpeech = true
			events = append(events, TurnEvent{Kind: KindSpeechStarted, At: at})
		}
		return events
	}

	if !d.inSpeech {
		return nil
	}
	d.silenceMs += d.cfg.FrameMs
	if d.silenceMs >= d.cfg.SilenceDurationMs {
		d.inSpeech = false
		d.silenceMs = 0
		events = append(events, TurnEvent{Kind: KindSpeechStopped, At: at})
	}
	return events
}

// InSpeech reports whether the caller is currently mid-utterance.
func (d *TurnDetector) InSpeech() bool {
	return d.inSpeech
}

// Reset clears detector state, used across provider reconnects.
func (d *TurnDetector) Reset() {
	d.inSpeech = false
	d.silenceMs = 0
}
