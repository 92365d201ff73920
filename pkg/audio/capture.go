package audio

import (
	"log/slog"
	"sync"
)

// FrameSink receives one encoded capture frame (16-bit little-endian PCM).
// It is called sequentially from the pipeline goroutine and must not block
// for extended periods — delivery is fire-and-forget, with no backpressure
// signal back to the capture device.
type FrameSink func(pcm []byte)

// Pipeline reframes raw sample blocks from a [CaptureStream] into fixed-size
// frames, encodes each frame with [EncodePCM16], and hands it to a
// [FrameSink] as soon as it is complete. Frames are never buffered beyond
// the one being assembled.
//
// A Pipeline is one-shot: Start may be called once, Stop any number of times.
type Pipeline struct {
	stream    CaptureStream
	frameSize int
	sink      FrameSink

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	finished  chan struct{}
}

// NewPipeline creates a capture pipeline reading from stream and delivering
// encoded frames of frameSize samples to sink. A non-positive frameSize
// falls back to [DefaultFrameSize].
func NewPipeline(stream CaptureStream, frameSize int, sink FrameSink) *Pipeline {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Pipeline{
		stream:    stream,
		frameSize: frameSize,
		sink:      sink,
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// Start begins reading from the stream on a background goroutine.
// Calling Start more than once has no effect.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Stop terminates the frame sequence and closes the underlying stream,
// releasing the capture device. Idempotent; safe to call before Start.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if err := p.stream.Close(); err != nil {
			slog.Warn("capture stream close", "err", err)
		}
	})
}

// Done returns a channel closed when the pipeline goroutine has exited and
// no further sink calls will be made. Pipelines that were never started do
// not close this channel.
func (p *Pipeline) Done() <-chan struct{} { return p.finished }

// run assembles fixed-size frames from incoming sample blocks. A partial
// frame left over when the stream ends is discarded.
func (p *Pipeline) run() {
	defer close(p.finished)

	buf := make([]float32, 0, p.frameSize*2)
	for {
		select {
		case <-p.done:
			return
		case block, ok := <-p.stream.Samples():
			if !ok {
				return
			}
			buf = append(buf, block...)
			for len(buf) >= p.frameSize {
				frame := buf[:p.frameSize]
				p.sink(EncodePCM16(frame))
				buf = append(buf[:0], buf[p.frameSize:]...)
			}
		}
	}
}
