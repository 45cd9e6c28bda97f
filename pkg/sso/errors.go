package sso

import (
	"fmt"
	"net/http"
)

// Machine-readable error codes surfaced to clients alongside the HTTP status.
const (
	CodeUnrecognized    = "UNRECOGNIZED"
	CodeUnknownSession  = "UNKNOWN_SESSION"
	CodeInvalidUsername = "INVALID_USERNAME"
	CodeUserInUse       = "USER_IN_USE"
	CodeMappingFailed   = "MAPPING_FAILED"
)

// Error is a client-visible error with an HTTP status and a machine-readable
// code.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates a client-visible error.
func NewError(status int, code, message string) *Error {
	return &Error{StatusCode: status, Code: code, Message: message}
}

var (
	// ErrNotConfigured is returned by BeginLogin when no identity providers
	// are registered. Caller misconfiguration, never retried.
	ErrNotConfigured = NewError(http.StatusBadRequest, CodeUnrecognized, "server not configured for SSO")

	// ErrUnknownSession is returned when a username-picker request carries a
	// session id that is absent or expired. The user recovers by restarting
	// the SSO flow.
	ErrUnknownSession = NewError(http.StatusBadRequest, CodeUnknownSession, "unknown session")
)

// MappingError indicates that no valid local identity could be produced from
// the SSO response. The message is shown to end users, so it must not leak
// internal detail.
type MappingError struct {
	Message string
}

func (e *MappingError) Error() string {
	return e.Message
}

// RedirectError is not a failure: it is a control-transfer signal instructing
// the HTTP layer to send the browser elsewhere, optionally setting cookies.
// It must propagate to the HTTP layer untouched.
type RedirectError struct {
	Location string
	Cookies  []*http.Cookie
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s", e.Location)
}
