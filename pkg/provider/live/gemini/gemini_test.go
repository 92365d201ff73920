package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auralith/muselive/pkg/provider/live"
	"github.com/auralith/muselive/pkg/provider/live/gemini"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// eventRecorder collects callback invocations for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	opens  int
	events []live.ServerEvent
	errs   []error
	closes int
}

func (r *eventRecorder) callbacks() live.Callbacks {
	return live.Callbacks{
		OnOpen: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.opens++
		},
		OnEvent: func(ev live.ServerEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnClose: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
		},
	}
}

func (r *eventRecorder) waitEvents(t *testing.T, n int) []live.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.events) >= n {
			evs := make([]live.ServerEvent, len(r.events))
			copy(evs, r.events)
			r.mu.Unlock()
			return evs
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d events", n)
	return nil
}

func (r *eventRecorder) waitOpens(t *testing.T) int {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if r.opens > 0 {
			n := r.opens
			r.mu.Unlock()
			return n
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for OnOpen")
	return 0
}

// ── Connect / setup ────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputTranscription  *map[string]any `json:"inputAudioTranscription"`
			OutputTranscription *map[string]any `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := live.SessionConfig{
		Voice:               "Kore",
		Instructions:        "You are a supportive creative brainstormer.",
		InputTranscription:  true,
		OutputTranscription: true,
	}
	sess, err := p.Connect(context.Background(), cfg, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v; want [AUDIO]", got)
		}
		if msg.Setup.GenerationConfig.SpeechConfig == nil {
			t.Fatal("speechConfig is nil")
		}
		if got := msg.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Kore" {
			t.Errorf("voice = %q; want Kore", got)
		}
		if msg.Setup.SystemInstruction == nil || len(msg.Setup.SystemInstruction.Parts) == 0 {
			t.Fatal("systemInstruction missing")
		}
		if msg.Setup.InputTranscription == nil {
			t.Error("inputAudioTranscription should be present")
		}
		if msg.Setup.OutputTranscription == nil {
			t.Error("outputAudioTranscription should be present")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_TranscriptionDisabledOmitsToggles(t *testing.T) {
	t.Parallel()

	received := make(chan map[string]any, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		received <- raw
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case raw := <-received:
		setup, _ := raw["setup"].(map[string]any)
		if setup == nil {
			t.Fatal("no setup object")
		}
		if _, ok := setup["inputAudioTranscription"]; ok {
			t.Error("inputAudioTranscription should be omitted when disabled")
		}
		if _, ok := setup["outputAudioTranscription"]; ok {
			t.Error("outputAudioTranscription should be omitted when disabled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlQuery := make(chan string, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlQuery <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case q := <-urlQuery:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	if _, err := p.Connect(ctx, live.SessionConfig{}, live.Callbacks{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

// ── OnOpen ─────────────────────────────────────────────────────────────────────

func TestOnOpen_FiresOnceOnSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		sendSetupComplete(t, conn) // duplicate ack must not re-fire OnOpen
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	rec.waitOpens(t)
	time.Sleep(50 * time.Millisecond) // allow the duplicate ack to be read

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.opens != 1 {
		t.Errorf("OnOpen fired %d times; want 1", rec.opens)
	}
}

// ── Send ───────────────────────────────────────────────────────────────────────

func TestSend_EncodesAndTransmits(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	sess.Send(wantPCM)

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSend_AfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sess.Send([]byte{1, 2, 3}) // must not panic or block
}

func TestSend_ConcurrentDoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	const goroutines = 8
	const framesPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range framesPerGoroutine {
				sess.Send([]byte{0x01, 0x02, 0x03, 0x04})
			}
		})
	}
	wg.Wait()
}

// ── Inbound events ─────────────────────────────────────────────────────────────

func TestOnEvent_DeliversDecodedAudio(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": encoded}},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evs := rec.waitEvents(t, 1)
	if string(evs[0].Audio) != string(wantPCM) {
		t.Errorf("event audio = %v; want %v", evs[0].Audio, wantPCM)
	}
}

// TestOnEvent_MultipleFieldsOnOneMessage verifies the field-multiplicity
// contract: one wire message carrying audio, a transcript, and the
// interrupted flag becomes one event with all three populated.
func TestOnEvent_MultipleFieldsOnOneMessage(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0x10, 0x20}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": encoded}},
					},
				},
				"outputTranscription": map[string]any{"text": "hello there"},
				"interrupted":         true,
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evs := rec.waitEvents(t, 1)
	ev := evs[0]
	if string(ev.Audio) != string(wantPCM) {
		t.Errorf("audio = %v; want %v", ev.Audio, wantPCM)
	}
	if ev.OutputTranscript != "hello there" {
		t.Errorf("outputTranscript = %q; want %q", ev.OutputTranscript, "hello there")
	}
	if !ev.Interrupted {
		t.Error("interrupted flag not set")
	}
}

func TestOnEvent_InputTranscription(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "what about a waltz"},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	evs := rec.waitEvents(t, 1)
	if evs[0].InputTranscript != "what about a waltz" {
		t.Errorf("inputTranscript = %q", evs[0].InputTranscript)
	}
	if evs[0].Audio != nil {
		t.Error("audio should be nil for a transcript-only event")
	}
}

func TestOnEvent_MalformedAudioReportsDecodeError(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "!!!not-base64!!!"}},
					},
				},
				"outputTranscription": map[string]any{"text": "still here"},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	// The transcript survives the dropped audio chunk.
	evs := rec.waitEvents(t, 1)
	if evs[0].OutputTranscript != "still here" {
		t.Errorf("outputTranscript = %q; want %q", evs[0].OutputTranscript, "still here")
	}
	if evs[0].Audio != nil {
		t.Error("malformed audio chunk should be dropped")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) == 0 {
		t.Fatal("expected a decode error via OnError")
	}
	var decodeErr *live.DecodeError
	if !errors.As(rec.errs[0], &decodeErr) {
		t.Errorf("error = %v; want *live.DecodeError", rec.errs[0])
	}
	if rec.closes != 0 {
		t.Error("decode failure must not close the session")
	}
}

// TestServerError_ReportsAndCloses verifies a server-sent error message is
// fatal: the error reaches OnError and OnClose follows, so a supervisor can
// tear the session down instead of waiting on a dead connection.
func TestServerError_ReportsAndCloses(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exhausted"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		done := rec.closes > 0
		rec.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closes != 1 {
		t.Fatalf("OnClose fired %d times after server error; want 1", rec.closes)
	}
	if len(rec.errs) == 0 {
		t.Fatal("expected the server error via OnError")
	}
	var decodeErr *live.DecodeError
	if errors.As(rec.errs[0], &decodeErr) {
		t.Errorf("error = %v; want a plain fatal error, not a DecodeError", rec.errs[0])
	}
	if !strings.Contains(rec.errs[0].Error(), "quota exhausted") {
		t.Errorf("error = %v; want the server message", rec.errs[0])
	}
}

// ── Close / lifecycle ──────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, live.Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_SuppressesCallbacks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		<-release
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "late"},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	rec.waitOpens(t)

	_ = sess.Close()
	close(release)
	time.Sleep(100 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("events after Close = %d; want 0", len(rec.events))
	}
	if rec.closes != 0 {
		t.Errorf("OnClose fired %d times after local Close; want 0", rec.closes)
	}
}

func TestRemoteClose_FiresOnClose(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusNormalClosure, "server going away")
	})

	rec := &eventRecorder{}
	p := newProvider(srv)
	sess, err := p.Connect(context.Background(), live.SessionConfig{}, rec.callbacks())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		if rec.closes > 0 {
			rec.mu.Unlock()
			return
		}
		rec.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for OnClose after remote close")
}
