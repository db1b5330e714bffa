package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry decisions.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindInvalidState
	KindConflict
	KindProviderUnavailable
	KindPersistenceTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindPersistenceTimeout:
		return "persistence_timeout"
	default:
		return "internal"
	}
}

// Error is the application error type. It carries enough context for the
// caller to act: which field failed validation, which id was missing,
// what status blocked the operation.
type Error struct {
	Kind    Kind
	Message string
	Field   string // set for validation errors
	ID      string // set for not-found and conflict errors
	Status  string // current session status, set for invalid-state errors
	Raw     error
}

func (e *Error) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Raw)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Raw }

// HTTPStatus maps the error kind to a response code. ProviderUnavailable is
// never mapped because it must be absorbed by a fallback before reaching a
// handler; if it leaks anyway it reads as an internal error.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindConflict:
		return http.StatusConflict
	case KindPersistenceTimeout:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, ID: id, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

func InvalidState(status, message string) *Error {
	return &Error{Kind: KindInvalidState, Status: status, Message: message}
}

func Conflict(id, message string) *Error {
	return &Error{Kind: KindConflict, ID: id, Message: message}
}

func ProviderUnavailable(raw error) *Error {
	return &Error{Kind: KindProviderUnavailable, Message: "generation provider unavailable", Raw: raw}
}

func PersistenceTimeout(sessionID string) *Error {
	return &Error{Kind: KindPersistenceTimeout, ID: sessionID, Message: "transcript flush not acknowledged in time, still finalizing"}
}

func Internal(raw error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Raw: raw}
}

// IsKind reports whether err is an application error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// As unwraps err to an application error, or wraps it as internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
