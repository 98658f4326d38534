// Package apperr defines the error taxonomy shared across the manager.
//
// Callers classify failures with errors.Is against the sentinel values
// below; packages wrap them with instance and phase context via
// fmt.Errorf and %w. Nothing in this package retries anything.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or invalid base paths and other
	// fatal setup problems. Not retryable.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidServerName marks an instance name that is not
	// filesystem safe or does not exist.
	ErrInvalidServerName = errors.New("invalid server name")

	// ErrUserInput marks any other caller mistake.
	ErrUserInput = errors.New("invalid input")

	// ErrFileNotFound marks an expected file, executable or backup
	// artifact that is absent.
	ErrFileNotFound = errors.New("file not found")

	// ErrChannelNotFound means the screen session or named pipe is
	// absent. The server is simply not running; this is not a channel
	// fault.
	ErrChannelNotFound = errors.New("command channel not found")

	// ErrChannelWrite marks a transient OS failure while writing to
	// the channel.
	ErrChannelWrite = errors.New("command channel write failed")

	// ErrUnsupportedPlatform is returned when neither a screen session
	// nor a named pipe mechanism exists on the host OS.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrServerStart marks a start that timed out or failed at the OS
	// level.
	ErrServerStart = errors.New("server failed to start")

	// ErrServerStop marks a stop that timed out or failed at the OS
	// level.
	ErrServerStop = errors.New("server failed to stop")

	// ErrCommandNotFound marks a required host utility (systemctl,
	// crontab, schtasks, screen) missing from PATH.
	ErrCommandNotFound = errors.New("required command not found")

	// ErrFileOperation marks backup/restore/install I/O failures.
	ErrFileOperation = errors.New("file operation failed")

	// ErrExtract marks archive extraction failures.
	ErrExtract = errors.New("extract failed")

	// ErrConfigParse marks malformed JSON, properties or XML content.
	ErrConfigParse = errors.New("config parse error")
)

// Wrap attaches a formatted context message to a sentinel so the
// result matches errors.Is(err, sentinel).
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
