package audio

// G.711 companding. Both laws are implemented as the standard per-sample
// formulas with an encode bias/clip, and decode via a 256-entry table built
// at init so the hot path is a single lookup.

const (
	mulawBias = 0x84
	mulawClip = 32635
	alawClip  = 32635
)

var (
	mulawDecodeTable [256]int16
	alawDecodeTable  [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		mulawDecodeTable[i] = mulawDecodeSample(byte(i))
		alawDecodeTable[i] = alawDecodeSample(byte(i))
	}
}

// EncodeMulaw compands linear PCM to G.711 µ-law.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = mulawEncodeSample(s)
	}
	return out
}

// DecodeMulaw expands G.711 µ-law to linear PCM.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawDecodeTable[b]
	}
	return out
}

// EncodeAlaw compands linear PCM to G.711 A-law.
func EncodeAlaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = alawEncodeSample(s)
	}
	return out
}

// DecodeAlaw expands G.711 A-law to linear PCM.
func DecodeAlaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = alawDecodeTable[b]
	}
	return out
}

func mulawEncodeSample(sample int16) byte {
	sign := byte(0)
	v := int32(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (uint(exponent) + 3)) & 0x0F)

	// Companded byte is transmitted inverted.
	return ^(sign | byte(exponent)<<4 | mantissa)
}

func mulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	v := (int32(mantissa)<<3 + mulawBias) << exponent
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

func alawEncodeSample(sample int16) byte {
	sign := byte(0x80)
	v := int32(sample)
	if v < 0 {
		v = -v - 1
		sign = 0
	}
	if v > alawClip {
		v = alawClip
	}

	var compressed byte
	if v < 256 {
		compressed = byte(v >> 4)
	} else {
		exponent := 7
		for mask := int32(0x4000); exponent > 1 && v&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte((v >> (uint(exponent) + 3)) & 0x0F)
		compressed = byte(exponent)<<4 | mantissa
	}

	// A-law transmits with even bits inverted.
	return (compressed | sign) ^ 0x55
}

func alawDecodeSample(b byte) int16 {
	b ^= 0x55
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	var v int32
	if exponent == 0 {
		v = mantissa<<4 + 8
	} else {
		v = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		v = -v
	}
	return int16(v)
}
