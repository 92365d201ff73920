// Package session owns the lifecycle of one live voice session: microphone
// capture, the provider connection, inbound event handling, playback
// scheduling, and the transcript record.
//
// A [Controller] drives the state machine Idle → Connecting → Active → Idle.
// Start acquires the capture and output devices concurrently and connects to
// the live provider; the controller stays Connecting until the provider
// acknowledges the session, at which point it goes Active and microphone
// frames begin flowing. Stop tears everything down; teardown is
// idempotent and runs exactly once per session regardless of how many paths
// trigger it (explicit Stop, remote close, or transport failure). A stopped
// controller returns to Idle and can be started again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auralith/muselive/internal/observe"
	"github.com/auralith/muselive/internal/playback"
	"github.com/auralith/muselive/internal/transcript"
	"github.com/auralith/muselive/pkg/audio"
	"github.com/auralith/muselive/pkg/provider/live"
	"go.opentelemetry.io/otel/metric"
)

// State is the controller's lifecycle phase.
type State string

const (
	// StateIdle means no session exists; Start may be called.
	StateIdle State = "idle"

	// StateConnecting means devices are being acquired and the provider
	// connection is being established.
	StateConnecting State = "connecting"

	// StateActive means the session is live and streaming.
	StateActive State = "active"
)

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithStore enables transcript persistence. A nil store disables it.
func WithStore(s *transcript.Store) Option {
	return func(c *Controller) { c.store = s }
}

// WithFrameSize overrides the capture frame size in samples.
// Defaults to [audio.DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(c *Controller) { c.frameSize = n }
}

// WithStateFunc registers a callback invoked on every state transition.
// The callback must not call back into the controller.
func WithStateFunc(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// Controller coordinates one live session at a time. Safe for concurrent use.
type Controller struct {
	capture   audio.CaptureProvider
	output    audio.OutputProvider
	provider  live.Provider
	cfg       live.SessionConfig
	frameSize int
	metrics   *observe.Metrics
	store     *transcript.Store
	logger    *slog.Logger
	onState   func(State)

	mu    sync.Mutex
	state State
	run   *run
}

// run holds the per-session resources. A fresh run value is created for every
// Start so teardown of an old session can never touch a new one.
type run struct {
	id        string
	startedAt time.Time
	outFormat audio.Format
	scheduler *playback.Scheduler
	pipeline  *audio.Pipeline
	log       *transcript.Log

	mu      sync.Mutex
	session live.Session
	opened  bool // provider acknowledged the session
	stopped bool // teardown has run

	stopOnce sync.Once
}

func (r *run) liveSession() live.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *run) setSession(s live.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

// NewController creates a controller over the given device providers and live
// backend. The controller starts in [StateIdle].
func NewController(capture audio.CaptureProvider, output audio.OutputProvider, provider live.Provider, cfg live.SessionConfig, opts ...Option) *Controller {
	c := &Controller{
		capture:   capture,
		output:    output,
		provider:  provider,
		cfg:       cfg,
		frameSize: audio.DefaultFrameSize,
		logger:    slog.Default(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the controller's current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the current (or most recent) session, or ""
// when the controller has never started.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.id
}

// Transcript returns the transcript fragments of the current (or most
// recent) session in arrival order.
func (c *Controller) Transcript() []transcript.Entry {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.log.Entries()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Start acquires the microphone and output device and connects to the live
// provider. It returns once the connection is established; the controller
// transitions to Active and microphone frames start flowing when the
// provider acknowledges the session. Returns [ErrAlreadyStarted] when a
// session is already connecting or active, and [ErrConnectionClosed] when
// the transport drops before startup completes. On any failure everything
// acquired so far is released and the controller returns to Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(StateConnecting)
	}

	// Acquire both devices concurrently. Either failure releases the other.
	var (
		stream audio.CaptureStream
		device audio.OutputDevice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.capture.Open(gctx)
		if err != nil {
			return fmt.Errorf("session: open capture: %w", err)
		}
		stream = s
		return nil
	})
	g.Go(func() error {
		d, err := c.output.Open(gctx)
		if err != nil {
			return fmt.Errorf("session: open output: %w", err)
		}
		device = d
		return nil
	})
	if err := g.Wait(); err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		if device != nil {
			_ = device.Close()
		}
		c.setState(StateIdle)
		return err
	}

	r := &run{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		outFormat: audio.DefaultOutputFormat,
		scheduler: playback.NewScheduler(device, c.logger),
		log:       transcript.NewLog(),
	}
	r.pipeline = audio.NewPipeline(stream, c.frameSize, func(pcm []byte) {
		if sess := r.liveSession(); sess != nil {
			sess.Send(pcm)
			c.metrics.FramesSent.Add(context.Background(), 1)
		}
	})

	sess, err := c.provider.Connect(ctx, c.cfg, live.Callbacks{
		OnOpen: func() {
			c.handleOpen(r)
		},
		OnEvent: func(ev live.ServerEvent) {
			c.handleEvent(r, ev)
		},
		OnError: func(err error) {
			c.handleError(r, err)
		},
		OnClose: func() {
			c.logger.Info("live session closed by remote", "session_id", r.id)
			c.stopRun(r)
		},
	})
	if err != nil {
		r.pipeline.Stop()
		_ = r.scheduler.Teardown()
		c.setState(StateIdle)
		return fmt.Errorf("session: connect: %w", err)
	}
	r.setSession(sess)

	if c.store != nil {
		if serr := c.store.BeginSession(ctx, r.id, c.cfg.Voice); serr != nil {
			c.logger.Warn("transcript store unavailable", "err", serr)
		}
	}

	// Registration and the early-close check must be one atomic step: the
	// transport's receive goroutine is already running and may have torn the
	// run down before this point.
	c.mu.Lock()
	r.mu.Lock()
	stoppedEarly := r.stopped
	r.mu.Unlock()
	if stoppedEarly {
		c.state = StateIdle
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(StateIdle)
		}
		// Teardown ran before the session handle was registered, so it could
		// not close the handle itself.
		_ = sess.Close()
		return fmt.Errorf("session: connect: %w", ErrConnectionClosed)
	}
	c.run = r
	c.mu.Unlock()

	c.logger.Info("session started",
		"session_id", r.id,
		"voice", c.cfg.Voice,
		"frame_size", c.frameSize,
	)
	return nil
}

// handleOpen transitions the run to Active once the provider acknowledges
// the session. The stopped check and the state change are atomic with
// stopRun's counterpart, so an acknowledgement racing a teardown can never
// resurrect a stopped run.
func (c *Controller) handleOpen(r *run) {
	c.mu.Lock()
	r.mu.Lock()
	stopped := r.stopped
	if !stopped {
		r.opened = true
	}
	r.mu.Unlock()
	if stopped {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(StateActive)
	}

	c.logger.Info("live session open", "session_id", r.id)
	r.pipeline.Start()
	c.metrics.ActiveSessions.Add(context.Background(), 1)
}

// handleEvent processes one inbound event. Every populated field is acted on:
// an event carrying audio, a transcript fragment, and the interrupted flag
// produces all three effects.
func (c *Controller) handleEvent(r *run, ev live.ServerEvent) {
	ctx := context.Background()

	// Barge-in first: any audio on the same event belongs to the new turn and
	// must not be cancelled along with the stale playback.
	if ev.Interrupted {
		r.scheduler.Interrupt()
		c.metrics.Interruptions.Add(ctx, 1)
	}

	if len(ev.Audio) > 0 {
		c.metrics.AudioChunksReceived.Add(ctx, 1)
		samples := audio.DecodePCM16(ev.Audio, r.outFormat.Channels)
		if len(samples) > 0 {
			seg := audio.Segment{Samples: samples, Format: r.outFormat}
			if err := r.scheduler.Schedule(seg); err != nil {
				c.logger.Warn("schedule playback failed", "session_id", r.id, "err", err)
			} else {
				c.metrics.SegmentsScheduled.Add(ctx, 1)
			}
		}
	}

	if ev.InputTranscript != "" {
		c.recordFragment(r, live.SpeakerUser, ev.InputTranscript, ev.At)
	}
	if ev.OutputTranscript != "" {
		c.recordFragment(r, live.SpeakerModel, ev.OutputTranscript, ev.At)
	}

	if ev.TurnComplete {
		c.logger.Debug("model turn complete", "session_id", r.id)
	}
}

func (c *Controller) recordFragment(r *run, speaker live.Speaker, text string, at time.Time) {
	r.log.Append(speaker, text, at)
	c.metrics.TranscriptFragments.Add(context.Background(), 1,
		metric.WithAttributes(observe.Attr("speaker", string(speaker))))
	if c.store != nil {
		if err := c.store.AppendFragment(context.Background(), r.id, speaker, text); err != nil {
			c.logger.Warn("persist transcript fragment failed", "session_id", r.id, "err", err)
		}
	}
}

// handleError reports a session error. Decode failures are non-fatal and
// counted separately; the session keeps running either way — fatal transport
// errors are followed by OnClose, which performs the teardown.
func (c *Controller) handleError(r *run, err error) {
	var decodeErr *live.DecodeError
	if errors.As(err, &decodeErr) {
		c.metrics.DecodeFailures.Add(context.Background(), 1)
		c.logger.Warn("inbound audio chunk dropped", "session_id", r.id, "err", err)
		return
	}
	c.metrics.SessionErrors.Add(context.Background(), 1)
	c.logger.Error("session error", "session_id", r.id, "err", err)
}

// Stop tears down the current session: capture stops, the provider
// connection closes, scheduled playback is cancelled, and both devices are
// released. Idempotent from any state; stopping an idle controller is a
// no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return
	}
	c.stopRun(r)
}

// stopRun performs the single teardown of a run. Every path that ends a
// session funnels here; stopOnce guarantees the device releases and metric
// updates happen exactly once. When the transport drops before Start has
// registered the run, the stopped flag is left for Start to observe: Start
// then closes the unregistered session handle and performs the Idle
// transition itself.
func (c *Controller) stopRun(r *run) {
	r.stopOnce.Do(func() {
		c.mu.Lock()
		r.mu.Lock()
		r.stopped = true
		sess := r.session
		opened := r.opened
		r.mu.Unlock()
		registered := c.run == r
		var fn func(State)
		if registered {
			c.state = StateIdle
			fn = c.onState
		}
		c.mu.Unlock()
		if fn != nil {
			fn(StateIdle)
		}

		r.pipeline.Stop()
		if sess != nil {
			if err := sess.Close(); err != nil {
				c.logger.Warn("close live session failed", "session_id", r.id, "err", err)
			}
		}
		if err := r.scheduler.Teardown(); err != nil {
			c.logger.Warn("playback teardown failed", "session_id", r.id, "err", err)
		}

		elapsed := time.Since(r.startedAt).Seconds()
		if opened {
			c.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		c.metrics.SessionDuration.Record(context.Background(), elapsed)
		c.logger.Info("session stopped",
			"session_id", r.id,
			"duration_s", elapsed,
			"transcript_fragments", r.log.Len(),
		)
	})
}
