package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures from the command runner and the dispatcher.
type ErrorCode string

const (
	ErrPermissionDenied ErrorCode = "PermissionDenied"
	ErrNotFound         ErrorCode = "NotFound"
	ErrTimeout          ErrorCode = "Timeout"
	ErrConnectionFailed ErrorCode = "ConnectionFailed"
	ErrInvalidOperation ErrorCode = "InvalidOperation"
	ErrUnknown          ErrorCode = "Unknown"
)

// StatusError is the one error type this core propagates. It keeps enough
// structure (code, key, exit code, message) for a presentation layer to build
// an actionable message without re-parsing command output.
type StatusError struct {
	Code     ErrorCode
	Key      *ResourceKey
	Message  string
	ExitCode int
	Err      error
}

func (e *StatusError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError builds a StatusError for key (which may be nil).
func NewStatusError(code ErrorCode, key *ResourceKey, format string, args ...interface{}) *StatusError {
	return &StatusError{Code: code, Key: key, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is (or wraps) a StatusError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// CodeOf returns the classification of err, ErrUnknown when err carries none.
func CodeOf(err error) ErrorCode {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrUnknown
}
