// Package mock provides in-memory implementations of the [audio.CaptureProvider],
// [audio.CaptureStream], [audio.OutputProvider], [audio.OutputDevice], and
// [audio.PlaybackHandle] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts and arguments, and expose exported fields the
// test sets to control return values. The mock output device keeps a manual
// clock advanced with [OutputDevice.AdvanceClock], so scheduling behaviour
// is fully deterministic.
package mock

import (
	"context"
	"sync"

	"github.com/auralith/muselive/pkg/audio"
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream].
// Feed sample blocks with [CaptureStream.Push]; inspect Released after use.
type CaptureStream struct {
	mu sync.Mutex

	// StreamFormat is returned by Format. Defaults to audio.DefaultInputFormat
	// when zero.
	StreamFormat audio.Format

	// CloseError is returned by the first Close call.
	CloseError error

	// Released reports whether Close has been called at least once.
	Released bool

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ch        chan []float32
	closeOnce sync.Once
}

// NewCaptureStream creates a mock stream with a buffered sample channel.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{ch: make(chan []float32, buffer)}
}

// Push delivers one raw sample block to the stream's consumers.
func (s *CaptureStream) Push(block []float32) {
	s.ch <- block
}

// Samples implements [audio.CaptureStream].
func (s *CaptureStream) Samples() <-chan []float32 { return s.ch }

// Format implements [audio.CaptureStream].
func (s *CaptureStream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StreamFormat == (audio.Format{}) {
		return audio.DefaultInputFormat
	}
	return s.StreamFormat
}

// Close implements [audio.CaptureStream]. The sample channel is closed on the
// first call; subsequent calls are no-ops and return nil.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	var err error
	s.closeOnce.Do(func() {
		s.Released = true
		close(s.ch)
		err = s.CloseError
	})
	return err
}

// ─── CaptureProvider ──────────────────────────────────────────────────────────

// CaptureProvider is a mock implementation of [audio.CaptureProvider].
type CaptureProvider struct {
	mu sync.Mutex

	// OpenResult is the stream returned by Open. When nil and OpenError is
	// nil, a fresh [CaptureStream] with a 16-block buffer is returned.
	OpenResult audio.CaptureStream

	// OpenError is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.CaptureProvider].
func (p *CaptureProvider) Open(_ context.Context) (audio.CaptureStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	if p.OpenResult == nil {
		p.OpenResult = NewCaptureStream(16)
	}
	return p.OpenResult, nil
}

// ─── PlaybackHandle ───────────────────────────────────────────────────────────

// PlaybackHandle is a mock implementation of [audio.PlaybackHandle].
// Tests finish playback naturally with [PlaybackHandle.Finish] or cancel it
// via Stop.
type PlaybackHandle struct {
	mu sync.Mutex

	// Stopped reports whether Stop was called at least once.
	Stopped bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewPlaybackHandle creates an unfinished handle.
func NewPlaybackHandle() *PlaybackHandle {
	return &PlaybackHandle{done: make(chan struct{})}
}

// Stop implements [audio.PlaybackHandle]. Idempotent.
func (h *PlaybackHandle) Stop() {
	h.mu.Lock()
	h.Stopped = true
	h.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
}

// Done implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Done() <-chan struct{} { return h.done }

// Finish marks the playback as naturally complete. Idempotent.
func (h *PlaybackHandle) Finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// WasStopped reports whether Stop was called.
func (h *PlaybackHandle) WasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Stopped
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [OutputDevice.Play] invocation.
type PlayCall struct {
	// Segment is the segment passed to Play.
	Segment audio.Segment
	// StartAt is the requested start time in device-clock seconds.
	StartAt float64
	// Handle is the handle returned for this call.
	Handle *PlaybackHandle
}

// OutputDevice is a mock implementation of [audio.OutputDevice] with a
// manually advanced clock.
type OutputDevice struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil; no handle is created.
	PlayError error

	// CloseError is returned by the first Close call.
	CloseError error

	// Released reports whether Close has been called at least once.
	Released bool

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	clock     float64
	closeOnce sync.Once
}

// Now implements [audio.OutputDevice]. Returns the manual clock value.
func (d *OutputDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// AdvanceClock moves the manual clock forward by seconds.
func (d *OutputDevice) AdvanceClock(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock += seconds
}

// Play implements [audio.OutputDevice]. Records the call and returns a fresh
// unfinished [PlaybackHandle].
func (d *OutputDevice) Play(seg audio.Segment, startAt float64) (audio.PlaybackHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlayError != nil {
		return nil, d.PlayError
	}
	h := NewPlaybackHandle()
	d.PlayCalls = append(d.PlayCalls, PlayCall{Segment: seg, StartAt: startAt, Handle: h})
	return h, nil
}

// Close implements [audio.OutputDevice]. Idempotent.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	var err error
	d.closeOnce.Do(func() {
		d.Released = true
		err = d.CloseError
	})
	return err
}

// Handles returns the playback handles created so far, in Play order.
func (d *OutputDevice) Handles() []*PlaybackHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := make([]*PlaybackHandle, len(d.PlayCalls))
	for i, c := range d.PlayCalls {
		hs[i] = c.Handle
	}
	return hs
}

// ─── OutputProvider ───────────────────────────────────────────────────────────

// OutputProvider is a mock implementation of [audio.OutputProvider].
type OutputProvider struct {
	mu sync.Mutex

	// OpenResult is the device returned by Open. When nil and OpenError is
	// nil, a fresh [OutputDevice] is created and returned.
	OpenResult audio.OutputDevice

	// OpenError is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.OutputProvider].
func (p *OutputProvider) Open(_ context.Context) (audio.OutputDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	if p.OpenResult == nil {
		p.OpenResult = &OutputDevice{}
	}
	return p.OpenResult, nil
}
