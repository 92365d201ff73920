// Package live defines the Provider interface for bidirectional realtime
// voice-session backends.
//
// A live provider wraps a hosted model that accepts streamed microphone audio
// and answers with synthesised speech, transcriptions, and interruption
// signals over a single stateful connection. The central abstraction is
// [Session]: an open connection with fire-and-forget audio send and
// callback-based inbound event delivery.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"
	"time"
)

// SessionConfig is the initial configuration for a new live session.
// All values are passed opaquely to the remote model at connect time.
type SessionConfig struct {
	// Voice selects the prebuilt voice used for synthesised speech output.
	Voice string

	// Instructions is the system-level prompt defining the assistant's
	// persona and behavioural constraints.
	Instructions string

	// InputTranscription requests transcription of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcription of the model's speech.
	OutputTranscription bool
}

// Speaker identifies the origin of a transcript fragment.
type Speaker string

const (
	// SpeakerUser marks fragments transcribed from the user's microphone audio.
	SpeakerUser Speaker = "user"

	// SpeakerModel marks fragments transcribed from the model's spoken output.
	SpeakerModel Speaker = "model"
)

// ServerEvent is one tagged inbound event from the remote model. Any subset
// of its fields may be populated on a single event; consumers must check and
// act on every populated field, not just the first match.
type ServerEvent struct {
	// Audio is a decoded block of 16-bit PCM bytes (little-endian) when the
	// event carries synthesised speech, nil otherwise.
	Audio []byte

	// InputTranscript is a fragment of the user's recognised speech, or "".
	InputTranscript string

	// OutputTranscript is a fragment of the model's spoken text, or "".
	OutputTranscript string

	// Interrupted reports that the user began speaking over in-progress
	// playback; any buffered output audio should be discarded immediately.
	Interrupted bool

	// TurnComplete reports that the model finished its current response turn.
	TurnComplete bool

	// At is the local arrival time of the event.
	At time.Time
}

// Callbacks receives session lifecycle and inbound events. All callbacks are
// invoked sequentially from the session's receive goroutine and must not
// block; nil callbacks are skipped. After [Session.Close] returns, no further
// callbacks are delivered.
type Callbacks struct {
	// OnOpen fires once when the remote model acknowledges the session setup.
	OnOpen func()

	// OnEvent fires for each inbound tagged event.
	OnEvent func(ev ServerEvent)

	// OnError fires for decode failures (non-fatal, the offending chunk is
	// dropped) and for transport failures (fatal to the session, followed by
	// OnClose).
	OnError func(err error)

	// OnClose fires once when the connection terminates, whether locally or
	// remotely initiated. It does not fire for sessions torn down via Close.
	OnClose func()
}

// Session is an open live connection.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Send delivers one encoded audio frame (16-bit PCM, little-endian, at
	// the session's negotiated input rate) to the model. Send is
	// fire-and-forget: it never blocks on network I/O and reports no outcome.
	// Frames that cannot be queued are dropped; write failures surface via
	// the OnError callback.
	Send(pcm []byte)

	// Close terminates the connection, releases resources, and suppresses
	// further callback delivery. Idempotent; subsequent calls return nil.
	Close() error
}

// Provider is the abstraction over any realtime voice backend.
type Provider interface {
	// Connect establishes a new live session with the given configuration and
	// callback set. The returned Session is ready to accept audio once the
	// OnOpen callback has fired. The caller owns the Session and is
	// responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig, cb Callbacks) (Session, error)
}

// DecodeError reports a malformed inbound audio payload. The offending chunk
// is dropped; the session continues.
type DecodeError struct {
	// Cause is the underlying decoding failure.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("live: decode inbound audio: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Cause }
