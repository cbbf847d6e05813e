package bridge

import (
	"testing"
	"time"

	"github.com/voxlane/voicebridge/pkg/provider"
)

func loudFrame(samples int) []int16 {
	pcm := make([]int16, samples)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 8000
		} else {
			pcm[i] = -8000
		}
	}
	return pcm
}

func quietFrame(samples int) []int16 {
	return make([]int16, samples)
}

func TestDetectorOnsetWithinOneFrame(t *testing.T) {
	d := NewTurnDetector(DetectorConfigFor(provider.TurnDetection{Sensitivity: provider.SensitivityMedium}, 20))

	events := d.ProcessFrame(loudFrame(160), time.Now())
	if len(events) != 1 || events[0].Kind != KindSpeechStarted {
		t.Fatalf("first loud frame events = %v, want speech_started", events)
	}
	if !d.InSpeech() {
		t.Error("InSpeech() = false after onset")
	}

	// Continued speech produces no duplicate onset.
	if events := d.ProcessFrame(loudFrame(160), time.Now()); len(events) != 0 {
		t.Errorf("repeat onset: %v", events)
	}
}

func TestDetectorMinSilenceBeforeStop(t *testing.T) {
	cfg := DetectorConfigFor(provider.TurnDetection{SilenceDurationMs: 100}, 20)
	d := NewTurnDetector(cfg)

	d.ProcessFrame(loudFrame(160), time.Now())

	// 4 silent frames (80 ms) is under the 100 ms threshold.
	for i := 0; i < 4; i++ {
		if events := d.ProcessFrame(quietFrame(160), time.Now()); len(events) != 0 {
			t.Fatalf("stopped %d ms early: %v", (4-i)*20, events)
		}
	}
	// The 5th silent frame crosses it.
	events := d.ProcessFrame(quietFrame(160), time.Now())
	if len(events) != 1 || events[0].Kind != KindSpeechStopped {
		t.Fatalf("events = %v, want speech_stopped", events)
	}
	if d.InSpeech() {
		t.Error("InSpeech() = true after stop")
	}
}

func TestDetectorPauseDoesNotEndTurn(t *testing.T) {
	cfg := DetectorConfigFor(provider.TurnDetection{SilenceDurationMs: 100}, 20)
	d := NewTurnDetector(cfg)

	d.ProcessFrame(loudFrame(160), time.Now())
	for i := 0; i < 3; i++ {
		d.ProcessFrame(quietFrame(160), time.Now())
	}
	// Speech resumes, resetting the silence clock.
	d.ProcessFrame(loudFrame(160), time.Now())
	for i := 0; i < 4; i++ {
		if events := d.ProcessFrame(quietFrame(160), time.Now()); len(events) != 0 {
			t.Fatalf("turn ended across a pause: %v", events)
		}
	}
}

func TestDetectorSensitivityPresets(t *testing.T) {
	tests := []struct {
		sensitivity provider.Sensitivity
		wantSilence int
	}{
		{provider.SensitivityLow, 900},
		{provider.SensitivityMedium, 600},
		{provider.SensitivityHigh, 350},
	}
	for _, tt := range tests {
		cfg := DetectorConfigFor(provider.TurnDetection{Sensitivity: tt.sensitivity}, 20)
		if cfg.SilenceDurationMs != tt.wantSilence {
			t.Errorf("%s: SilenceDurationMs = %d, want %d", tt.sensitivity, cfg.SilenceDurationMs, tt.wantSilence)
		}
	}

	low := DetectorConfigFor(provider.TurnDetection{Sensitivity: provider.SensitivityLow}, 20)
	high := DetectorConfigFor(provider.TurnDetection{Sensitivity: provider.SensitivityHigh}, 20)
	if low.EnergyThreshold >= high.EnergyThreshold {
		t.Errorf("low threshold %v should be under high %v", low.EnergyThreshold, high.EnergyThreshold)
	}
}

func TestDetectorTenantOverrides(t *testing.T) {
	cfg := DetectorConfigFor(provider.TurnDetection{
		Sensitivity:       provider.SensitivityMedium,
		EnergyThreshold:   0.1,
		SilenceDurationMs: 1500,
	}, 20)
	if cfg.EnergyThreshold != 0.1 || cfg.SilenceDurationMs != 1500 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewTurnDetector(DetectorConfigFor(provider.TurnDetection{}, 20))
	d.ProcessFrame(loudFrame(160), time.Now())
	d.Reset()
	if d.InSpeech() {
		t.Error("InSpeech() after Reset")
	}
	events := d.ProcessFrame(loudFrame(160), time.Now())
	if len(events) != 1 || events[0].Kind != KindSpeechStarted {
		t.Errorf("onset after Reset = %v", events)
	}
}
