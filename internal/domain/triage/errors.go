package triage

import "errors"

var (
	// ErrValidation marks rejected input: unknown symptoms, out-of-range
	// severity, malformed patient context.
	ErrValidation = errors.New("validation error")

	// ErrSessionState marks an operation applied in a state that does not
	// allow it, such as answering a completed session.
	ErrSessionState = errors.New("invalid session state")

	// ErrSessionNotFound marks a lookup of a session that does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy marks a concurrent operation on a session that already
	// has one in flight. Clients should retry.
	ErrSessionBusy = errors.New("session has an operation in flight")
)
