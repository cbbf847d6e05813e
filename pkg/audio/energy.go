package audio

import (
	"math"
	"sync"
)

// RMSEnergy computes the root-mean-square energy of linear PCM, normalized
// to 0.0..1.0.
func RMSEnergy(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// PeakAmplitude returns the maximum absolute amplitude, normalized to
// 0.0..1.0.
func PeakAmplitude(pcm []int16) float64 {
	var peak float64
	for _, s := range pcm {
		// float64 avoids overflow when negating -32768.
		abs := math.Abs(float64(s))
		if abs > peak {
			peak = abs
		}
	}
	return peak / 32768.0
}

// PCMBuffer accumulates linear PCM with a bounded maximum length. When the
// bound is exceeded the oldest samples are discarded, so the buffer always
// holds the most recent audio.
type PCMBuffer struct {
	mu         sync.Mutex
	data       []int16
	maxSamples int
}

// NewPCMBuffer creates a buffer holding up to maxDurationMs of audio at the
// given rate.
func NewPCMBuffer(sampleRate, maxDurationMs int) *PCMBuffer {
	maxSamples := sampleRate * maxDurationMs / 1000
	return &PCMBuffer{
		data:       make([]int16, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// Write appends samples, trimming from the front past the bound.
func (b *PCMBuffer) Write(pcm []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
	if len(b.data) > b.maxSamples {
		excess := len(b.data) - b.maxSamples
		b.data = append(b.data[:0], b.data[excess:]...)
	}
}

// Read returns a copy of the buffered samples.
func (b *PCMBuffer) Read() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int16, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the buffered sample count.
func (b *PCMBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Clear empties the buffer.
func (b *PCMBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
