package session

import "errors"

// Sentinel errors for the error kinds the orchestrator surfaces. The HTTP
// layer maps them to status codes with errors.Is; anything else is internal.
var (
	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded indicates the operation requires a live session but
	// the session is dead.
	ErrSessionEnded = errors.New("session ended")

	// ErrBadInput indicates invalid caller input, such as a missing
	// directory or an unknown selection item.
	ErrBadInput = errors.New("bad input")

	// ErrLogUnavailable indicates the output log collaborator is not
	// configured.
	ErrLogUnavailable = errors.New("output log unavailable")
)
