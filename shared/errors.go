package shared

import (
	"errors"
	"fmt"
)

// ErrorCode is a canonical machine-readable error kind.
type ErrorCode string

const (
	ErrBadInput           ErrorCode = "BAD_INPUT"
	ErrAuthDenied         ErrorCode = "AUTH_DENIED"
	ErrAuthInvalid        ErrorCode = "AUTH_INVALID"
	ErrAuthExpired        ErrorCode = "AUTH_EXPIRED"
	ErrAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentOffline       ErrorCode = "AGENT_OFFLINE"
	ErrCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	ErrToolExecution      ErrorCode = "TOOL_EXECUTION_ERROR"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstream           ErrorCode = "UPSTREAM_ERROR"
	ErrBusUnavailable     ErrorCode = "BUS_UNAVAILABLE"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error is the canonical error object carried on every failure envelope.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the Go error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns the error with an extra detail field set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError converts any error into a canonical *Error. Unknown errors map to
// INTERNAL_ERROR with a sanitized message; raw upstream text never reaches
// the client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(ErrInternal, "internal error")
}
