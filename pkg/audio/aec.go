package audio

import (
	"fmt"
)

// EchoCanceller removes acoustic echo from near-end (caller microphone)
// audio using the far-end (agent playback) signal as the reference. It is a
// normalized least-mean-squares adaptive filter: the filter models the
// speaker-to-microphone path and its output is subtracted from the near-end
// signal before the residual drives adaptation.
//
// The filter length covers the expected acoustic tail (~128 ms at the session
// rate). State belongs to one session and is discarded when the session ends.
// Not safe for concurrent use; the inbound pump is the sole caller.
type EchoCanceller struct {
	sampleRate int
	taps       int

	weights []float64
	// farHist is a ring of the most recent far-end samples; farPos points at
	// the newest one.
	farHist []float64
	farPos  int

	mu  float64 // adaptation step size
	eps float64 // regularization to avoid division blow-up in silence
}

// EchoTailMs is the acoustic tail the filter models.
const EchoTailMs = 128

// NewEchoCanceller builds a canceller for linear PCM at the given sample
// rate. The rate must be in the supported set.
func NewEchoCanceller(sampleRate int) (*EchoCanceller, error) {
	if !SupportedRates[sampleRate] {
		return nil, fmt.Errorf("%w: AEC at %d Hz", ErrUnsupportedFormat, sampleRate)
	}
	taps := sampleRate * EchoTailMs / 1000
	return &EchoCanceller{
		sampleRate: sampleRate,
		taps:       taps,
		weights:    make([]float64, taps),
		farHist:    make([]float64, taps),
		mu:         0.5,
		eps:        1e-6,
	}, nil
}

// Process removes the estimated echo from one near-end frame using the
// far-end reference captured over the same interval, advancing the reference
// history sample-by-sample in lockstep. If farRef is shorter than near (agent
// silent for part of the frame) the missing reference samples are zero.
//
// Both signals must be linear PCM at the canceller's rate; compressed wire
// formats are decoded before this point, never after.
func (ec *EchoCanceller) Process(near, farRef []int16) []int16 {
	out := make([]int16, len(near))
	for i, s := range near {
		var x float64
		if i < len(farRef) {
			x = float64(farRef[i]) / 32768.0
		}
		ec.farPos = (ec.farPos + 1) % ec.taps
		ec.farHist[ec.farPos] = x

		d := float64(s) / 32768.0

		// Estimated echo: dot product of weights with the far-end history,
		// newest sample first.
		var est, norm float64
		idx := ec.farPos
		for t := 0; t < ec.taps; t++ {
			h := ec.farHist[idx]
			est += ec.weights[t] * h
			norm += h * h
			idx--
			if idx < 0 {
				idx = ec.taps - 1
			}
		}

		e := d - est

		// NLMS update, normalized by far-end energy over the window.
		step := ec.mu / (norm + ec.eps)
		idx = ec.farPos
		for t := 0; t < ec.taps; t++ {
			ec.weights[t] += step * e * ec.farHist[idx]
			idx--
			if idx < 0 {
				idx = ec.taps - 1
			}
		}

		out[i] = clampSample(e * 32768.0)
	}
	return out
}

// Reset clears the adaptive state without reallocating.
func (ec *EchoCanceller) Reset() {
	for i := range ec.weights {
		ec.weights[i] = 0
	}
	for i := range ec.farHist {
		ec.farHist[i] = 0
	}
	ec.farPos = 0
}
