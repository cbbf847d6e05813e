package audio

import (
	"fmt"
	"math"
)

// Resampler converts linear PCM between two sample rates using band-limited
// (windowed-sinc) interpolation. It keeps a short history tail across calls
// so fixed-duration frames can be converted independently without edge
// artifacts at frame boundaries.
//
// A Resampler is stateful and owned by a single session pump; it is not safe
// for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int

	// phase filter bank: taps per phase, precomputed at construction.
	filters [][]float64
	taps    int
	phases  int

	// history carries the last taps-1 input samples between calls.
	history []int16

	// fractional read position into the virtual input stream.
	pos float64
	// ratio of source samples consumed per output sample.
	step float64
}

const (
	resamplerTaps   = 24
	resamplerPhases = 32
)

// NewResampler builds a resampler for the given rate pair. Both rates must be
// in the supported set; identical rates are allowed and pass samples through.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if !SupportedRates[srcRate] || !SupportedRates[dstRate] {
		return nil, fmt.Errorf("%w: resample %d -> %d Hz", ErrUnsupportedFormat, srcRate, dstRate)
	}
	r := &Resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		step:    float64(srcRate) / float64(dstRate),
	}
	if srcRate == dstRate {
		return r, nil
	}

	// Low-pass cutoff at the smaller Nyquist frequency, with a little margin
	// for the Hann window's transition band.
	cutoff := 0.45 * math.Min(float64(srcRate), float64(dstRate)) / float64(srcRate)

	r.taps = resamplerTaps
	r.phases = resamplerPhases
	r.filters = make([][]float64, r.phases)
	for p := 0; p < r.phases; p++ {
		frac := float64(p) / float64(r.phases)
		taps := make([]float64, r.taps)
		var sum float64
		for i := 0; i < r.taps; i++ {
			// Tap i covers input sample (i - taps/2 + 1) relative to the
			// integer read position; frac shifts the sinc between samples.
			x := float64(i-r.taps/2+1) - frac
			s := sinc(2*cutoff*x) * 2 * cutoff
			// Hann window over the tap span.
			w := 0.5 + 0.5*math.Cos(math.Pi*float64(i-r.taps/2+1)/float64(r.taps/2))
			taps[i] = s * w
			sum += taps[i]
		}
		// Normalize for unity DC gain so tones keep their amplitude.
		if sum != 0 {
			for i := range taps {
				taps[i] /= sum
			}
		}
		r.filters[p] = taps
	}
	r.history = make([]int16, r.taps-1)
	return r, nil
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// Ratio returns dstRate / srcRate.
func (r *Resampler) Ratio() float64 {
	return float64(r.dstRate) / float64(r.srcRate)
}

// Process converts one frame of source-rate PCM into destination-rate PCM.
// Output length may vary by one sample between calls as the fractional
// position carries over.
func (r *Resampler) Process(in []int16) []int16 {
	if r.srcRate == r.dstRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return nil
	}

	// Work over history + frame so taps reaching behind the frame start see
	// real samples from the previous call.
	buf := make([]int16, len(r.history)+len(in))
	copy(buf, r.history)
	copy(buf[len(r.history):], in)

	half := r.taps / 2
	// Number of output samples available given the frame we just appended.
	avail := float64(len(in))
	out := make([]int16, 0, int(avail/r.step)+2)

	for ; r.pos < avail; r.pos += r.step {
		ipos := int(math.Floor(r.pos))
		frac := r.pos - float64(ipos)
		phase := int(frac * float64(r.phases))
		if phase >= r.phases {
			phase = r.phases - 1
		}
		taps := r.filters[phase]

		// buf index of the first tap. history length is taps-1, so the
		// earliest tap (ipos - half + 1) is always in range.
		base := ipos + len(r.history) - half + 1
		var acc float64
		for i := 0; i < r.taps; i++ {
			idx := base + i
			if idx < 0 {
				continue
			}
			if idx >= len(buf) {
				// Future samples beyond the frame: hold the edge value.
				idx = len(buf) - 1
			}
			acc += float64(buf[idx]) * taps[i]
		}
		out = append(out, clampSample(acc))
	}
	r.pos -= avail

	copy(r.history, buf[len(buf)-len(r.history):])
	return out
}

// Reset clears resampler state between unrelated streams.
func (r *Resampler) Reset() {
	for i := range r.history {
		r.history[i] = 0
	}
	r.pos = 0
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
