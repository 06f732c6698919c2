// Package apperrors provides the structured error taxonomy used across the job driver.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrTransport = errors.New("transport error")
	ErrProtocol  = errors.New("protocol error")
	ErrConfig    = errors.New("config error")
	ErrStalled   = errors.New("poll limit reached")
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // For config errors (e.g., "account.user_name")
	Op         string // Operation that failed (e.g., "jobs.submit")
	StatusCode int    // HTTP status for transport errors, 0 if the server was unreachable
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both match errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// Transport creates a transport error for a request that failed at the HTTP level.
// A zero statusCode means the server could not be reached at all.
func Transport(op string, statusCode int, cause error) error {
	msg := fmt.Sprintf("%s: HTTP %d", op, statusCode)
	if statusCode == 0 {
		msg = fmt.Sprintf("%s: server unreachable", op)
	}
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Sentinel:   ErrTransport,
		Message:    msg,
		Op:         op,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Protocol creates an error for a server payload that cannot be interpreted.
func Protocol(op, message string) error {
	return &Error{
		Sentinel: ErrProtocol,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
	}
}

// Config creates a configuration error for a specific field.
func Config(field, message string) error {
	return &Error{
		Sentinel: ErrConfig,
		Message:  message,
		Field:    field,
	}
}

// Stalled creates the error returned when a poll loop exhausts its ceiling.
func Stalled(op string, polls int) error {
	return &Error{
		Sentinel: ErrStalled,
		Message:  fmt.Sprintf("%s: still waiting after %d polls", op, polls),
		Op:       op,
	}
}

// StatusCode returns the HTTP status recorded on a transport error, or 0.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
