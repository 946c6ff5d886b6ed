// Package apperr defines the error kinds surfaced by the analysis engine and
// their mapping to HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindExternalService Kind = "external_service"
	KindParse           Kind = "parse"
	KindTimeout         Kind = "timeout"
	KindSessionState    Kind = "session_state"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// Error carries a Kind alongside a wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, err error, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports a malformed or out-of-range input.
func Validation(format string, args ...any) error {
	return newf(KindValidation, nil, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, nil, format, args...)
}

// ExternalService wraps a failure of the inference service after retries.
func ExternalService(err error, format string, args ...any) error {
	return newf(KindExternalService, err, format, args...)
}

// Parse wraps malformed structured output.
func Parse(err error, format string, args ...any) error {
	return newf(KindParse, err, format, args...)
}

// Timeout wraps a deadline overrun.
func Timeout(err error, format string, args ...any) error {
	return newf(KindTimeout, err, format, args...)
}

// SessionState reports an illegal session transition.
func SessionState(format string, args ...any) error {
	return newf(KindSessionState, nil, format, args...)
}

// Cancelled wraps a caller-initiated cancellation.
func Cancelled(err error, format string, args ...any) error {
	return newf(KindCancelled, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// errors map to Timeout and Cancelled; anything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code returned by the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionState:
		return http.StatusConflict
	case KindParse:
		return http.StatusUnprocessableEntity
	case KindExternalService:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// FromContext converts a context error into the matching kind. It returns
// nil when ctx is still live.
func FromContext(ctx context.Context, what string) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(err, "%s", what)
	default:
		return Cancelled(err, "%s", what)
	}
}
