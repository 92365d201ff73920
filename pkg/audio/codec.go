package audio

import "math"

// EncodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
// Samples outside the valid range are clamped before scaling. An empty input
// yields an empty (non-nil) output.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit little-endian PCM bytes to float samples by
// dividing each sample by 32768. channels defaults to 1 when non-positive.
//
// Trailing bytes that do not fill a whole sample frame (2*channels bytes)
// are truncated. Remote chunk boundaries are not guaranteed to fall on frame
// boundaries, so a partial trailing sample is discarded rather than misread.
func DecodePCM16(data []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	out := make([]float32, frames*channels)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}
