package errs

import "errors"

// Domain sentinel errors, mapped to HTTP codes in handlers and to protocol
// error messages in the relay.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotLive  = errors.New("session is not live")
	ErrSessionFull     = errors.New("session is at capacity")
	ErrInvalidStatus   = errors.New("invalid session status transition")
	ErrAlreadyJoined   = errors.New("connection already joined a session")
	ErrStreamRunning   = errors.New("stream already running")
)
