// Package playback schedules decoded model speech onto an output device.
//
// Segments arrive in bursts from the session's event callback and must play
// back-to-back without gaps or overlap. The [Scheduler] keeps a monotonic
// playback cursor on the device clock: each segment starts at the later of
// the cursor and the device's current time, and the cursor advances by the
// segment's duration. An interruption stops everything in flight and snaps
// the cursor back so the next segment starts immediately.
package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/auralith/muselive/pkg/audio"
)

// Scheduler sequences audio segments on a single [audio.OutputDevice].
// Safe for concurrent use.
type Scheduler struct {
	out    audio.OutputDevice
	logger *slog.Logger

	mu     sync.Mutex
	cursor float64
	active map[uint64]audio.PlaybackHandle
	seq    uint64
	closed bool
}

// NewScheduler creates a scheduler over the given output device. The device
// is owned by the scheduler from this point; [Scheduler.Teardown] closes it.
func NewScheduler(out audio.OutputDevice, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:    out,
		logger: logger,
		active: make(map[uint64]audio.PlaybackHandle),
	}
}

// Schedule enqueues seg for gapless playback after everything already
// scheduled. Returns an error when the device rejects the segment or the
// scheduler has been torn down.
func (s *Scheduler) Schedule(seg audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("playback: schedule: scheduler is closed")
	}

	start := s.cursor
	if now := s.out.Now(); now > start {
		start = now
	}

	handle, err := s.out.Play(seg, start)
	if err != nil {
		return fmt.Errorf("playback: schedule segment: %w", err)
	}
	s.cursor = start + seg.Seconds()

	id := s.seq
	s.seq++
	s.active[id] = handle
	go s.watch(id, handle)
	return nil
}

// watch removes the handle from the active set once playback completes.
func (s *Scheduler) watch(id uint64, handle audio.PlaybackHandle) {
	<-handle.Done()
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt stops all scheduled and in-progress playback and resets the
// cursor, so the next scheduled segment starts at the device's current time.
// Safe to call at any time, including when nothing is playing.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	handles := make([]audio.PlaybackHandle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	s.active = make(map[uint64]audio.PlaybackHandle)
	s.cursor = 0
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	if len(handles) > 0 {
		s.logger.Debug("playback interrupted", "stopped_segments", len(handles))
	}
}

// ActiveCount returns the number of segments currently scheduled or playing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Teardown stops all playback and releases the output device. Idempotent;
// subsequent calls return nil.
func (s *Scheduler) Teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Interrupt()
	if err := s.out.Close(); err != nil {
		return fmt.Errorf("playback: close output device: %w", err)
	}
	return nil
}
