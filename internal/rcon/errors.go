package rcon

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrMalformed    = errors.New("malformed frame")
	ErrSizeExceeded = errors.New("frame body exceeds maximum size")
)

// IncompleteError signals that the buffer holds only a partial frame.
// Not a failure; the reader waits for at least Need more bytes.
type IncompleteError struct {
	Need int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete frame, need %d more bytes", e.Need)
}

// Connection and command errors.
var (
	ErrAuthFailed     = errors.New("authentication failed")
	ErrAuthTimeout    = errors.New("authentication timed out")
	ErrNotConnected   = errors.New("not connected")
	ErrConnectTimeout = errors.New("connect timed out")
	ErrCommandTimeout = errors.New("command timed out")
	ErrDestroyed      = errors.New("connection destroyed")
)

// AbortedError fails pending commands when the connection leaves the
// connected state.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("command aborted: %s", e.Reason)
}

// CommandFailedError carries a server-reported failure message.
type CommandFailedError struct {
	Message string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command failed: %s", e.Message)
}

// UnexpectedFormatError distinguishes semantic parse failures from
// transport failures on the convenience command surface.
type UnexpectedFormatError struct {
	Command  string
	Expected string
	Actual   string
}

func (e *UnexpectedFormatError) Error() string {
	return fmt.Sprintf("unexpected %s response format: expected %s, got %q", e.Command, e.Expected, e.Actual)
}

// IsRecoverable reports whether a failed command may be retried by the
// execute wrapper. Authentication and protocol errors are terminal.
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrCommandTimeout) || errors.Is(err, ErrNotConnected) {
		return true
	}
	return false
}
