package session

import "errors"

// ErrAlreadyStarted is returned by [Controller.Start] when a session is
// already connecting or active.
var ErrAlreadyStarted = errors.New("session: already started")

// ErrConnectionClosed is returned by [Controller.Start] when the provider
// connection terminates before startup completes.
var ErrConnectionClosed = errors.New("session: connection closed during setup")
