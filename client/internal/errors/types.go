// Package errors provides the single error type used by the SDK.
// Every failure carries a machine-readable NCMB code plus a category that
// tells the background executor whether a retry could ever help.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors may succeed when re-issued.
	// Examples: 500 Internal Server Error, network timeouts, connection failures.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail identically on every attempt.
	// Examples: 401 Unauthorized, 403 Forbidden, 404 Not Found, local argument errors.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// SDK-local codes live in the E100xxx range; the rest mirror the server.
const (
	CodeGeneric                  = "E100001"
	CodeNetwork                  = "E100002"
	CodeInvalidType              = "E100003"
	CodeInvalidResponseSignature = "E100004"
	CodeInvalidResponse          = "E100005"

	CodeInvalidJSON        = "E400001"
	CodeInvalidFormat      = "E400002"
	CodeRequired           = "E400003"
	CodeInvalidAuthHeader  = "E401001"
	CodeOAuthFailure       = "E401002"
	CodeOperationForbidden = "E403001"
	CodeDataNotFound       = "E404001"
	CodeDuplicateValue     = "E409001"
	CodeInternalServer     = "E500001"
)

// Error is the only error type surfaced by the SDK.
type Error struct {
	Code       string
	Message    string
	StatusCode int // HTTP status code (0 for local and network errors)
	Category   ErrorCategory
	Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %s", e.Code, e.StatusCode, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error carrying the same code, so sentinel values such as
// ErrDataNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// New returns an irrecoverable error with the given code.
func New(code, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Category: Irrecoverable,
	}
}

// Wrap attaches code and message to err.
func Wrap(code string, err error, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Category:   Irrecoverable,
		Underlying: err,
	}
}

// IsIrrecoverable returns true if the error should not be retried.
func IsIrrecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category == Irrecoverable
	}
	return false
}

// CodeOf returns the NCMB code carried by err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
