package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultInputFormat is the capture-side wire format expected by the remote
// model: 16 kHz mono PCM.
var DefaultInputFormat = Format{SampleRate: 16000, Channels: 1}

// DefaultOutputFormat is the playback-side wire format delivered by the remote
// model: 24 kHz mono PCM.
var DefaultOutputFormat = Format{SampleRate: 24000, Channels: 1}

// DefaultFrameSize is the number of raw samples per capture frame.
const DefaultFrameSize = 4096

// Segment is a decoded block of output audio samples scheduled for playback.
// Samples are interleaved float32 values in [-1, 1].
type Segment struct {
	Samples []float32
	Format  Format
}

// Duration returns the playback duration of the segment.
// A segment with a non-positive format has zero duration.
func (s Segment) Duration() time.Duration {
	if s.Format.SampleRate <= 0 || s.Format.Channels <= 0 {
		return 0
	}
	frames := len(s.Samples) / s.Format.Channels
	return time.Duration(float64(frames) / float64(s.Format.SampleRate) * float64(time.Second))
}

// Seconds returns the playback duration of the segment in seconds, the unit
// used by the playback scheduler's device clock.
func (s Segment) Seconds() float64 {
	return s.Duration().Seconds()
}
