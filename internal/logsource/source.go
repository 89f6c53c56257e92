// Package logsource delivers newline-framed records from the game
// server's log file, whether local or behind FTP/SFTP.
package logsource

import "errors"

// Initialization errors, reported distinctly so the operator can tell a
// bad path from bad credentials from a dead host.
var (
	ErrFileNotFound     = errors.New("log file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConnectionFailed = errors.New("connection to log host failed")
	ErrAuthFailed       = errors.New("log host authentication failed")
	ErrReadError        = errors.New("log read error")
	ErrAlreadyWatching  = errors.New("source is already watching")
)

// LineFunc receives one log line, newline stripped.
type LineFunc func(line string)

// Source is a single log file being followed. Watch verifies
// reachability and file existence before declaring the source live;
// transient read errors after that are swallowed and retried.
type Source interface {
	Watch(fn LineFunc) error
	Unwatch() error
	Path() string
	IsWatching() bool
}
