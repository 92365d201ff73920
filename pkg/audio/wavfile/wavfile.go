// Package wavfile provides file-backed implementations of the audio device
// interfaces: a [CaptureFile] that plays a WAV recording as if it were a
// microphone, and a [Sink] that renders scheduled playback into a WAV file.
//
// These adapters let the full session pipeline run end-to-end on machines
// without audio hardware. The sink keeps a virtual device clock equal to the
// seconds of audio rendered so far; scheduling gaps are rendered as silence,
// which makes the output file a faithful record of the playback timeline.
package wavfile

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/auralith/muselive/pkg/audio"
)

var (
	_ audio.CaptureProvider = (*CaptureFile)(nil)
	_ audio.OutputProvider  = (*Sink)(nil)
)

// defaultBlockSize is the number of samples per block pushed by a capture
// file stream. 3200 samples is 200 ms at the 16 kHz wire rate.
const defaultBlockSize = 3200

// CaptureFile is an [audio.CaptureProvider] that reads a WAV file and
// delivers its contents as a capture stream. Stereo input is downmixed and
// any sample rate is converted to the target format.
type CaptureFile struct {
	// Path is the WAV file to read.
	Path string

	// Target is the delivered stream format. Zero means [audio.DefaultInputFormat].
	Target audio.Format

	// BlockSize is the samples per delivered block. 0 selects the default.
	BlockSize int

	// Realtime paces block delivery at the playback rate of the file instead
	// of delivering as fast as the consumer reads.
	Realtime bool
}

// Open implements [audio.CaptureProvider]. The whole file is decoded up
// front; delivery happens on a background goroutine until the file is
// exhausted or the stream is closed.
func (c *CaptureFile) Open(_ context.Context) (audio.CaptureStream, error) {
	target := c.Target
	if target == (audio.Format{}) {
		target = audio.DefaultInputFormat
	}
	blockSize := c.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	f, err := os.Open(c.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("wavfile: open %q: %w", c.Path, audio.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("wavfile: open %q: %w", c.Path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid wav file", c.Path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", c.Path, err)
	}

	samples := intBufferToFloat(buf)
	if buf.Format.NumChannels == 2 {
		samples = audio.StereoToMono(samples)
	}
	samples = audio.ResampleMono(samples, buf.Format.SampleRate, target.SampleRate)

	s := &fileStream{
		ch:     make(chan []float32, 4),
		format: target,
		done:   make(chan struct{}),
	}
	go s.deliver(samples, blockSize, c.Realtime)
	return s, nil
}

// fileStream is the capture stream backing a [CaptureFile].
type fileStream struct {
	ch     chan []float32
	format audio.Format

	done      chan struct{}
	closeOnce sync.Once
}

// deliver pushes blocks until the file is exhausted or the stream is closed.
// It is the sole closer of s.ch, so Close can never race a pending send.
func (s *fileStream) deliver(samples []float32, blockSize int, realtime bool) {
	defer close(s.ch)

	blockDur := time.Duration(float64(blockSize) / float64(s.format.SampleRate) * float64(time.Second))

	for start := 0; start < len(samples); start += blockSize {
		end := min(start+blockSize, len(samples))
		block := samples[start:end]

		if realtime {
			select {
			case <-time.After(blockDur):
			case <-s.done:
				return
			}
		}
		select {
		case s.ch <- block:
		case <-s.done:
			return
		}
	}
}

// Samples implements [audio.CaptureStream].
func (s *fileStream) Samples() <-chan []float32 { return s.ch }

// Format implements [audio.CaptureStream].
func (s *fileStream) Format() audio.Format { return s.format }

// Close implements [audio.CaptureStream]. Idempotent. The sample channel is
// closed by the delivery goroutine once it observes the shutdown.
func (s *fileStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Sink is an [audio.OutputProvider] that renders all scheduled playback into
// a single WAV file.
type Sink struct {
	// Path is the WAV file to create. An existing file is truncated.
	Path string

	// Format is the rendered format. Zero means [audio.DefaultOutputFormat].
	Format audio.Format
}

// Open implements [audio.OutputProvider].
func (s *Sink) Open(_ context.Context) (audio.OutputDevice, error) {
	format := s.Format
	if format == (audio.Format{}) {
		format = audio.DefaultOutputFormat
	}

	f, err := os.Create(s.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %q: %w", s.Path, audio.ErrDeviceUnavailable)
	}
	enc := wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1)
	return &sinkDevice{f: f, enc: enc, format: format}, nil
}

// sinkDevice renders segments synchronously. Its clock is the duration of
// audio written so far, so scheduled start times map directly to file
// offsets.
type sinkDevice struct {
	mu      sync.Mutex
	f       *os.File
	enc     *wav.Encoder
	format  audio.Format
	written float64
	closed  bool
}

// Now implements [audio.OutputDevice].
func (d *sinkDevice) Now() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Play implements [audio.OutputDevice]. The segment is rendered immediately;
// a startAt beyond the current clock is rendered as leading silence. The
// returned handle completes as soon as rendering finishes.
func (d *sinkDevice) Play(seg audio.Segment, startAt float64) (audio.PlaybackHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("wavfile: %w", audio.ErrDeviceUnavailable)
	}

	if gap := startAt - d.written; gap > 0 {
		n := int(gap * float64(d.format.SampleRate))
		if err := d.writeSamples(make([]float32, n)); err != nil {
			return nil, err
		}
		d.written += float64(n) / float64(d.format.SampleRate)
	}

	if err := d.writeSamples(seg.Samples); err != nil {
		return nil, err
	}
	d.written += seg.Seconds()

	h := &renderedHandle{done: make(chan struct{})}
	close(h.done)
	return h, nil
}

func (d *sinkDevice) writeSamples(samples []float32) error {
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: d.format.Channels,
			SampleRate:  d.format.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf.Data[i] = int(math.Round(float64(v) * 32767))
	}
	if err := d.enc.Write(buf); err != nil {
		return fmt.Errorf("wavfile: write samples: %w", err)
	}
	return nil
}

// Close implements [audio.OutputDevice]. Finalises the WAV header.
// Idempotent.
func (d *sinkDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.enc.Close(); err != nil {
		d.f.Close()
		return fmt.Errorf("wavfile: close encoder: %w", err)
	}
	if err := d.f.Close(); err != nil {
		return fmt.Errorf("wavfile: close file: %w", err)
	}
	return nil
}

// renderedHandle is a playback handle for already-rendered audio.
type renderedHandle struct {
	done chan struct{}
}

// Stop implements [audio.PlaybackHandle]. Rendering is synchronous, so there
// is nothing left to cancel.
func (h *renderedHandle) Stop() {}

// Done implements [audio.PlaybackHandle].
func (h *renderedHandle) Done() <-chan struct{} { return h.done }

func intBufferToFloat(buf *goaudio.IntBuffer) []float32 {
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / 32768
	}
	return out
}
