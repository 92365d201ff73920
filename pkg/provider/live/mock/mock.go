// Package mock provides scriptable in-memory implementations of the
// [live.Provider] and [live.Session] interfaces for use in unit tests.
//
// The mock provider captures the callback set passed to Connect so tests can
// drive the session by emitting events directly:
//
//	provider := &mock.Provider{}
//	// ... start the code under test ...
//	provider.EmitOpen()
//	provider.EmitEvent(live.ServerEvent{OutputTranscript: "hello"})
//	provider.EmitClose()
package mock

import (
	"context"
	"sync"

	"github.com/auralith/muselive/pkg/provider/live"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [live.Session].
type Session struct {
	mu sync.Mutex

	// CloseError is returned by the first Close call.
	CloseError error

	// SentFrames records every frame passed to Send, in order.
	SentFrames [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Closed reports whether Close has been called at least once.
	Closed bool
}

// Send implements [live.Session]. Records the frame.
func (s *Session) Send(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed {
		return
	}
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	s.SentFrames = append(s.SentFrames, frame)
}

// Close implements [live.Session]. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.Closed {
		return nil
	}
	s.Closed = true
	return s.CloseError
}

// FrameCount returns the number of frames recorded so far.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentFrames)
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// ─── Provider ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Provider.Connect] invocation.
type ConnectCall struct {
	// Config is the session configuration passed to Connect.
	Config live.SessionConfig
}

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectResult is the session returned by Connect. When nil and
	// ConnectError is nil, a fresh [Session] is created per call.
	ConnectResult live.Session

	// ConnectError is returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// LastSession is the most recently returned mock session (nil when
	// ConnectResult was set explicitly to a non-mock session).
	LastSession *Session

	callbacks live.Callbacks
}

// Connect implements [live.Provider]. Records the call and captures cb for
// later event emission.
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig, cb live.Callbacks) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Config: cfg})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	p.callbacks = cb
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	p.LastSession = &Session{}
	return p.LastSession, nil
}

// EmitOpen invokes the captured OnOpen callback, if any.
func (p *Provider) EmitOpen() {
	if cb := p.snapshot(); cb.OnOpen != nil {
		cb.OnOpen()
	}
}

// EmitEvent invokes the captured OnEvent callback with ev.
func (p *Provider) EmitEvent(ev live.ServerEvent) {
	if cb := p.snapshot(); cb.OnEvent != nil {
		cb.OnEvent(ev)
	}
}

// EmitError invokes the captured OnError callback with err.
func (p *Provider) EmitError(err error) {
	if cb := p.snapshot(); cb.OnError != nil {
		cb.OnError(err)
	}
}

// EmitClose invokes the captured OnClose callback, if any.
func (p *Provider) EmitClose() {
	if cb := p.snapshot(); cb.OnClose != nil {
		cb.OnClose()
	}
}

func (p *Provider) snapshot() live.Callbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callbacks
}
