// Package audio defines the sample codec, device interfaces, and capture
// pipeline for the muselive voice-session core.
//
// The two device-side abstractions are:
//
//   - [CaptureProvider] — acquires the microphone and returns a [CaptureStream]
//     of raw sample blocks.
//   - [OutputProvider] — acquires the playback device and returns an
//     [OutputDevice] exposing a clock and scheduled buffer playback.
//
// Implementations are provided by adapter packages (e.g. audio/wavfile for
// file-backed devices, audio/mock for tests). Each device is exclusively
// owned by one session at a time; the session controller holds the handles
// explicitly — there is no process-wide device state.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [CaptureProvider.Open] when access to
// the microphone is refused.
var ErrPermissionDenied = errors.New("audio: capture permission denied")

// ErrDeviceUnavailable is returned by [OutputProvider.Open] when the playback
// device cannot be acquired.
var ErrDeviceUnavailable = errors.New("audio: output device unavailable")

// CaptureStream is a live microphone stream. It is obtained from
// [CaptureProvider.Open] and remains valid until Close is called.
type CaptureStream interface {
	// Samples returns a read-only channel of raw sample blocks as they become
	// available from the device, at the stream's native rate. Block sizes are
	// device-determined; the capture [Pipeline] reframes them. The channel is
	// closed when the stream ends or Close is called.
	Samples() <-chan []float32

	// Format reports the stream's native sample rate and channel count.
	Format() Format

	// Close detaches from the device and releases the underlying hardware
	// resource. Idempotent; subsequent calls are no-ops and return nil.
	Close() error
}

// CaptureProvider acquires the microphone.
type CaptureProvider interface {
	// Open acquires the capture device and starts delivering samples.
	// Returns [ErrPermissionDenied] (possibly wrapped) when access is refused.
	Open(ctx context.Context) (CaptureStream, error)
}

// PlaybackHandle tracks one scheduled segment on an [OutputDevice].
type PlaybackHandle interface {
	// Stop cancels the scheduled or in-progress playback. Idempotent.
	Stop()

	// Done returns a channel that is closed when playback finishes, whether
	// naturally or via Stop.
	Done() <-chan struct{}
}

// OutputDevice is an acquired playback device with its own clock.
//
// Implementations must be safe for concurrent use: the playback scheduler
// reads the clock and schedules buffers from event-callback goroutines.
type OutputDevice interface {
	// Now returns the device clock in seconds. The clock is monotonically
	// non-decreasing for the lifetime of the device.
	Now() float64

	// Play schedules seg to begin at device time startAt. A startAt in the
	// past begins playback immediately. The returned handle reports
	// completion and supports cancellation. No segment may be started twice.
	Play(seg Segment, startAt float64) (PlaybackHandle, error)

	// Close releases the device. Idempotent.
	Close() error
}

// OutputProvider acquires the playback device.
type OutputProvider interface {
	// Open acquires the output device. Returns [ErrDeviceUnavailable]
	// (possibly wrapped) when the device cannot be acquired.
	Open(ctx context.Context) (OutputDevice, error)
}
