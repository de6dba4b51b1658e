// Package errkind classifies the failures a transfer can end with and maps them to process exit codes.
package errkind

import (
	"errors"
	"fmt"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

var (
	// ErrInvalidArgument is a malformed block size, URL or a missing bucket/key reference.
	// It is always detected before any remote multipart resource is opened.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRemoteTransfer is any failure of an initiate, upload-part, complete, abort or range read call.
	ErrRemoteTransfer = errors.New("remote transfer failed")

	// ErrIO is a read or write failure on the local byte streams.
	ErrIO = errors.New("i/o error")

	// ErrInterrupted is a user requested cancellation.
	ErrInterrupted = errors.New("interrupted by user")
)

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err)
}

func (e *kindError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// InvalidArgument ...
func InvalidArgument(format string, v ...interface{}) error {
	return &kindError{kind: ErrInvalidArgument, msg: fmt.Sprintf(format, v...)}
}

// Invalid wraps a lookup or validation failure, eg. a bucket that does not exist.
func Invalid(op string, err error) error {
	return &kindError{kind: ErrInvalidArgument, msg: op, err: err}
}

// Remote wraps a failed remote call. op names the call, eg. "upload part 3".
func Remote(op string, err error) error {
	return &kindError{kind: ErrRemoteTransfer, msg: op, err: err}
}

// IO wraps a failed local stream operation.
func IO(op string, err error) error {
	return &kindError{kind: ErrIO, msg: op, err: err}
}

// Is reports whether err belongs to any of the known kinds.
func Is(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrRemoteTransfer) ||
		errors.Is(err, ErrIO) ||
		errors.Is(err, ErrInterrupted)
}

// cleanupError carries a failure of a best-effort cleanup step next to the cause that triggered the cleanup.
// Only the cause takes part in errors.Is / errors.As.
type cleanupError struct {
	cause   error
	cleanup error
}

func (e *cleanupError) Error() string {
	return fmt.Sprintf("%s (cleanup failed: %s)", e.cause, e.cleanup)
}

func (e *cleanupError) Unwrap() error {
	return e.cause
}

// WithCleanup attaches cleanupErr to cause without masking it. A nil cleanupErr returns cause unchanged.
func WithCleanup(cause, cleanupErr error) error {
	if cleanupErr == nil || cause == nil {
		return cause
	}
	return &cleanupError{cause: cause, cleanup: cleanupErr}
}

// CleanupError returns the cleanup failure attached by WithCleanup, if any.
func CleanupError(err error) error {
	var ce *cleanupError
	if errors.As(err, &ce) {
		return ce.cleanup
	}
	return nil
}

// ExitCode maps the outcome of a command to the process exit status.
// Cancellation shares the generic failure status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return ExitFailure
}
