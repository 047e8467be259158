// Package apperr carries the error taxonomy shared by the session core and the
// HTTP boundary: every failure is categorized so the boundary can map it to a
// status code and the orchestrator can decide whether it stays local to one
// image or terminates the session.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindValidation indicates bad input or an out-of-order operation (HTTP 400/409).
	KindValidation Kind = "validation"
	// KindNotFound indicates an unknown or expired session/image/reference (HTTP 404).
	KindNotFound Kind = "not_found"
	// KindInvalidState indicates a state-machine violation (HTTP 409).
	KindInvalidState Kind = "invalid_state"
	// KindExternal indicates a describe-provider failure (HTTP 502).
	KindExternal Kind = "external"
	// KindStorage indicates a filesystem failure (HTTP 500).
	KindStorage Kind = "storage"
	// KindInternal indicates any other server-side failure (HTTP 500).
	KindInternal Kind = "internal"
)

// Error is a categorized error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to a boundary status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

func External(message string, cause error) *Error {
	return &Error{Kind: KindExternal, Message: message, Cause: cause}
}

func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// From converts any error into a categorized *Error, wrapping unknown
// errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error", err)
}
