// Package errors defines the triage error taxonomy and user-safe error rendering.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how the console must react to it.
type Kind string

const (
	// KindUnauthorized means no session or an invalid one. Always tears the session down.
	KindUnauthorized Kind = "unauthorized"
	// KindForbidden means a valid session without the required role. The session is kept.
	KindForbidden Kind = "forbidden"
	// KindResetRequired means the session is valid but a password reset is pending.
	KindResetRequired Kind = "reset_required"
	// KindValidation is a locally recoverable input problem shown inline.
	KindValidation Kind = "validation"
	// KindUpstream is a network or server failure unrelated to authorization.
	KindUpstream Kind = "upstream"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrResetRequired = &Error{Kind: KindResetRequired}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrUpstream      = &Error{Kind: KindUpstream}
)

// Error is a classified failure.
type Error struct {
	Op      string // operation that failed, e.g. "api.ListLogs"
	Kind    Kind
	Message string // user-facing message
	Status  int    // HTTP status when the failure came from the API, 0 otherwise
	Err     error  // underlying cause
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// New creates a classified error.
func New(op string, kind Kind, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(op string, kind Kind, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Unauthorized creates a KindUnauthorized error.
func Unauthorized(op, message string) *Error {
	return New(op, KindUnauthorized, message)
}

// Forbidden creates a KindForbidden error.
func Forbidden(op, message string) *Error {
	return New(op, KindForbidden, message)
}

// ResetRequired creates a KindResetRequired error.
func ResetRequired(op string) *Error {
	return New(op, KindResetRequired, "password reset required")
}

// Validation creates a KindValidation error.
func Validation(op, message string) *Error {
	return New(op, KindValidation, message)
}

// Upstream wraps a transport or server failure.
func Upstream(op string, err error) *Error {
	return Wrap(op, KindUpstream, "upstream request failed", err)
}

// FromStatus maps an HTTP response status to a classified error.
// Returns nil for 2xx statuses.
func FromStatus(op string, status int, message string) error {
	if status >= 200 && status < 300 {
		return nil
	}

	e := &Error{Op: op, Status: status, Message: message}
	switch status {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case http.StatusForbidden:
		e.Kind = KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		e.Kind = KindValidation
	default:
		e.Kind = KindUpstream
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// KindOf returns the Kind of err, or KindUpstream for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// IsUnauthorized checks if the error requires session teardown.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if the error is a role denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsResetRequired checks if the error is a pending password reset.
func IsResetRequired(err error) bool {
	return errors.Is(err, ErrResetRequired)
}

// IsValidation checks if the error is a local validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUpstream checks if the error is an upstream failure.
// Unclassified errors count as upstream.
func IsUpstream(err error) bool {
	return err != nil && KindOf(err) == KindUpstream
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
