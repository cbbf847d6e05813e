// Package audio implements the codec layer of the voice bridge: G.711
// companding, sample-rate conversion, format negotiation, signal energy
// helpers, and the acoustic echo canceller.
//
// Everything in this package operates on 16-bit signed linear PCM once past
// the encoding boundary. Compressed wire formats (µ-law, A-law) are converted
// at the edge and never processed directly.
package audio

import (
	"fmt"
)

// Encoding identifies an audio sample encoding on the wire.
type Encoding string

const (
	// EncodingPCM16 is 16-bit signed little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"
	// EncodingMulaw is G.711 µ-law companded 8-bit audio.
	EncodingMulaw Encoding = "mulaw"
	// EncodingAlaw is G.711 A-law companded 8-bit audio.
	EncodingAlaw Encoding = "alaw"
)

// BytesPerSample returns the wire size of one sample, or 0 for an unknown
// encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCM16:
		return 2
	case EncodingMulaw, EncodingAlaw:
		return 1
	default:
		return 0
	}
}

// Format describes the negotiated shape of an audio stream.
type Format struct {
	Encoding     Encoding `json:"encoding"`
	SampleRateHz int      `json:"sample_rate_hz"`
	Channels     int      `json:"channels"`
}

func (f Format) String() string {
	return fmt.Sprintf("%s@%dHz/%dch", f.Encoding, f.SampleRateHz, f.Channels)
}

// BytesForDuration returns the wire byte count for the given duration in
// milliseconds.
func (f Format) BytesForDuration(ms int) int {
	return f.SampleRateHz * f.Channels * f.Encoding.BytesPerSample() * ms / 1000
}

// DurationMs returns the duration in milliseconds of n wire bytes.
func (f Format) DurationMs(n int) int {
	bps := f.SampleRateHz * f.Channels * f.Encoding.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return n * 1000 / bps
}

// SupportedRates are the sample rates the codec layer can convert between.
var SupportedRates = map[int]bool{8000: true, 16000: true, 24000: true}

// Validate rejects formats the codec layer cannot handle. It is called at
// session setup so that unsupported combinations fail before the first frame,
// never per-frame.
func Validate(f Format) error {
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, f.Encoding)
	}
	if f.Channels != 1 {
		return fmt.Errorf("%w: %d channels (mono only)", ErrUnsupportedFormat, f.Channels)
	}
	if !SupportedRates[f.SampleRateHz] {
		return fmt.Errorf("%w: sample rate %d Hz", ErrUnsupportedFormat, f.SampleRateHz)
	}
	if (f.Encoding == EncodingMulaw || f.Encoding == EncodingAlaw) && f.SampleRateHz != 8000 {
		return fmt.Errorf("%w: G.711 requires 8000 Hz, got %d", ErrUnsupportedFormat, f.SampleRateHz)
	}
	return nil
}

// Path is a validated conversion path between a wire format and a provider
// format. Both sides share one linear PCM domain; the path records which
// resampling direction each leg needs.
type Path struct {
	Wire     Format
	Provider Format
}

// NegotiatePath validates both endpoints of a session's audio contract.
// A nil error means ToLinear/FromLinear/Resample will succeed for every frame
// of the session.
func NegotiatePath(wire, provider Format) (Path, error) {
	if err := Validate(wire); err != nil {
		return Path{}, fmt.Errorf("wire format %s: %w", wire, err)
	}
	if err := Validate(provider); err != nil {
		return Path{}, fmt.Errorf("provider format %s: %w", provider, err)
	}
	return Path{Wire: wire, Provider: provider}, nil
}

// ToLinear decodes a wire frame into linear PCM samples at the format's
// sample rate.
func ToLinear(frame []byte, f Format) ([]int16, error) {
	switch f.Encoding {
	case EncodingPCM16:
		if len(frame)%2 != 0 {
			return nil, fmt.Errorf("pcm16 frame length %d is odd", len(frame))
		}
		pcm := make([]int16, len(frame)/2)
		for i := range pcm {
			pcm[i] = int16(frame[2*i]) | int16(frame[2*i+1])<<8
		}
		return pcm, nil
	case EncodingMulaw:
		return DecodeMulaw(frame), nil
	case EncodingAlaw:
		return DecodeAlaw(frame), nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, f.Encoding)
	}
}

// FromLinear encodes linear PCM samples into the target wire encoding.
func FromLinear(pcm []int16, f Format) ([]byte, error) {
	switch f.Encoding {
	case EncodingPCM16:
		out := make([]byte, len(pcm)*2)
		for i, s := range pcm {
			out[2*i] = byte(s)
			out[2*i+1] = byte(uint16(s) >> 8)
		}
		return out, nil
	case EncodingMulaw:
		return EncodeMulaw(pcm), nil
	case EncodingAlaw:
		return EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, f.Encoding)
	}
}
