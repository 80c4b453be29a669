// Package apperr defines the error kinds shared by the attendance, ledger and
// payment packages and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrUpstream           = errors.New("upstream unavailable")
	ErrVerificationFailed = errors.New("verification failed")
)

// Error carries a kind, the failing operation and a human readable message.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// Validation builds an ErrValidation error.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds an ErrConflict error.
func Conflict(op, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds an ErrNotFound error.
func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a store or gateway failure. Retryable.
func Upstream(op string, err error) error {
	return &Error{Kind: ErrUpstream, Op: op, Msg: "upstream unavailable", Err: err}
}

// VerificationFailed builds a terminal ErrVerificationFailed error.
func VerificationFailed(op, format string, args ...any) error {
	return &Error{Kind: ErrVerificationFailed, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error onto the status code used by the HTTP API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show to a user.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == ErrUpstream {
			return "service temporarily unavailable, please retry"
		}
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	return "internal error"
}

// Code names the kind of err for machine-readable responses.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "internal"
	}
}
