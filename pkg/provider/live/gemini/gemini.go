// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Outbound microphone audio is transmitted as base64-encoded PCM
// chunks; inbound server messages are decoded into tagged [live.ServerEvent]
// values and dispatched via callbacks.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/auralith/muselive/pkg/provider/live"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// inputMIMEType tags outbound frames with the wire encoding and rate.
	inputMIMEType = "audio/pcm;rate=16000"

	// sendQueueDepth bounds the outbound frame queue. At 4096 samples per
	// frame this is several seconds of audio; a full queue means the
	// connection is stalled and dropping is preferable to blocking capture.
	sendQueueDepth = 32

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session. The returned Session accepts
// audio immediately, but frames sent before cb.OnOpen fires may be discarded
// by the remote side.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, cb live.Callbacks) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		cb:     cb,
		sendCh: make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.sendLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model               string             `json:"model"`
	GenerationConfig    generationConfig   `json:"generationConfig"`
	SystemInstruction   *systemInstruction `json:"systemInstruction,omitempty"`
	InputTranscription  *json.RawMessage   `json:"inputAudioTranscription,omitempty"`
	OutputTranscription *json.RawMessage   `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// emptyObject is the value sent for the transcription toggles; the protocol
// expects a bare `{}` to enable each.
var emptyObject = json.RawMessage(`{}`)

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	cb     live.Callbacks
	sendCh chan []byte

	mu       sync.Mutex
	closed   bool
	openSeen bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model string, cfg live.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if cfg.InputTranscription {
		msg.Setup.InputTranscription = &emptyObject
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputTranscription = &emptyObject
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them as
// callbacks. It delivers OnClose exactly once when the connection ends,
// unless the session was closed locally.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Locally closed sessions suppress all further callbacks.
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.dispatchClose()
				return
			}
			s.dispatchError(fmt.Errorf("gemini: receive: %w", err))
			s.dispatchClose()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if fatal := s.handleServerMessage(&msg); fatal {
			s.dispatchClose()
			s.shutdown(websocket.StatusInternalError, "server error")
			return
		}
	}
}

// handleServerMessage dispatches one decoded server message. A server-sent
// error is fatal to the session: true tells the receive loop to deliver
// OnClose and release the connection.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		s.dispatchOpen()
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.dispatchError(fmt.Errorf("gemini: %s", text))
		return true
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	return false
}

// handleServerContent maps one wire message to exactly one ServerEvent
// carrying every populated field. A chunk whose base64 payload is malformed
// is reported via OnError and dropped; the rest of the event still fires.
func (s *session) handleServerContent(sc *serverContent) {
	ev := live.ServerEvent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
		At:           time.Now(),
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				s.dispatchError(&live.DecodeError{Cause: err})
				continue
			}
			ev.Audio = append(ev.Audio, chunk...)
		}
	}

	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}

	if len(ev.Audio) == 0 && ev.InputTranscript == "" && ev.OutputTranscript == "" &&
		!ev.Interrupted && !ev.TurnComplete {
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.cb.OnEvent == nil {
		return
	}
	s.cb.OnEvent(ev)
}

// sendLoop drains the outbound frame queue onto the wire. Write failures are
// surfaced via OnError; the loop keeps draining so capture never blocks.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.sendCh:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{
					MediaChunks: []mediaChunk{
						{MIMEType: inputMIMEType, Data: base64.StdEncoding.EncodeToString(pcm)},
					},
				},
			}
			if err := s.writeJSON(msg); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.dispatchError(fmt.Errorf("gemini: send: %w", err))
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── Callback dispatch ──────────────────────────────────────────────────────────

func (s *session) dispatchOpen() {
	s.mu.Lock()
	if s.closed || s.openSeen {
		s.mu.Unlock()
		return
	}
	s.openSeen = true
	s.mu.Unlock()

	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
}

func (s *session) dispatchError(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	} else {
		slog.Warn("gemini session error", "err", err)
	}
}

func (s *session) dispatchClose() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

// ── Session methods ────────────────────────────────────────────────────────────

// Send enqueues one encoded audio frame for transmission. Frames are dropped
// when the session is closed or the outbound queue is full.
func (s *session) Send(pcm []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.sendCh <- pcm:
	default:
		slog.Warn("gemini: outbound queue full, dropping frame", "bytes", len(pcm))
	}
}

// Close terminates the session, releases the connection, and suppresses all
// further callback delivery. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.shutdown(websocket.StatusNormalClosure, "session closed")
	return nil
}

// shutdown releases the connection and stops the background loops without
// touching the closed flag, so callbacks already in flight still deliver.
func (s *session) shutdown(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()    // unblocks receiveLoop and sendLoop
		close(s.done) // signals keepaliveLoop
		s.conn.Close(status, reason)
	})
}
