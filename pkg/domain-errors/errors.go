// Package domainerrors provides coded errors that services return and the
// HTTP layer translates. Stores return sentinel errors instead; services wrap
// them into one of these codes before they cross a module boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Codes are stable strings so they can be
// surfaced directly in API responses and matched by clients.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"

	// Admission-specific codes. A check-in station renders these directly;
	// integrity_failure is additionally routed to security monitoring.
	CodeInvalidCredential   Code = "invalid_credential"
	CodeUnsupportedVersion  Code = "unsupported_version"
	CodeIntegrityFailure    Code = "integrity_failure"
	CodeExpiredCredential   Code = "expired_credential"
	CodeUnknownRegistration Code = "unknown_registration"
	CodeInvalidState        Code = "invalid_state"
)

// Error is a coded domain error. Message is safe to show to operators; the
// wrapped cause is for logs only.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in a service.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to errors.Is; kept so callers only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// httpStatus maps codes to HTTP statuses for the transport layer.
var httpStatus = map[Code]int{
	CodeBadRequest:          http.StatusBadRequest,
	CodeInvalidInput:        http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeInternal:            http.StatusInternalServerError,
	CodeInvalidCredential:   http.StatusUnprocessableEntity,
	CodeUnsupportedVersion:  http.StatusUnprocessableEntity,
	CodeIntegrityFailure:    http.StatusUnprocessableEntity,
	CodeExpiredCredential:   http.StatusUnprocessableEntity,
	CodeUnknownRegistration: http.StatusNotFound,
	CodeInvalidState:        http.StatusUnprocessableEntity,
}

// ToHTTPStatus returns the HTTP status for a code. Unknown codes map to 500.
func ToHTTPStatus(code Code) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
