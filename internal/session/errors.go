package session

import "errors"

var (
	// ErrNotFound means the referenced session or token does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrTerminalState means a lifecycle action hit a completed or cancelled
	// session. Callers must surface this, never swallow it.
	ErrTerminalState = errors.New("session in terminal state")

	// ErrInvalidState means the session state does not permit the operation,
	// e.g. ending a session that was never activated.
	ErrInvalidState = errors.New("invalid session state for operation")
)
