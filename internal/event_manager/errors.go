package event_manager

import "errors"

var (
	// ErrTooManyHandlers guards against subscription leaks.
	ErrTooManyHandlers = errors.New("too many handlers registered for event type")

	// ErrWaitTimeout is returned by WaitFor when no matching event arrives.
	ErrWaitTimeout = errors.New("timed out waiting for event")
)
