// Package apperr defines the error taxonomy shared by every component:
// Catalog, Artifact Installer, Evaluator, Dispatcher, and the admin/ingress
// HTTP adapters all return errors in this shape so a single place maps them
// to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories the design calls out.
type Kind int

const (
	// KindUnauthorized means the caller's credentials were missing or wrong.
	KindUnauthorized Kind = iota
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindConflict means the operation would violate a uniqueness invariant.
	KindConflict
	// KindInvalid means the caller's input failed validation.
	KindInvalid
	// KindEvaluationError means the transform/filter SQL failed against the
	// engine.
	KindEvaluationError
	// KindDispatchError is internal-only and no component returns it: the
	// dispatcher never returns an error to its caller (it always reports an
	// Outcome, with failures carried in its fields).
	KindDispatchError
	// KindEngineError means the underlying SQL engine failed.
	KindEngineError
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindEvaluationError:
		return "evaluation_error"
	case KindDispatchError:
		return "dispatch_error"
	case KindEngineError:
		return "engine_error"
	default:
		return "unknown"
	}
}

// Error is the typed error every component returns.
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

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping an underlying cause,
// preserving the cause's message verbatim per the engine handle's contract.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Unauthorized is a convenience constructor.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// NotFound is a convenience constructor.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict is a convenience constructor.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Invalid is a convenience constructor.
func Invalid(message string) *Error { return New(KindInvalid, message) }

// EvaluationError is a convenience constructor.
func EvaluationError(message string, cause error) *Error {
	return Wrap(KindEvaluationError, message, cause)
}

// EngineError is a convenience constructor.
func EngineError(message string, cause error) *Error {
	return Wrap(KindEngineError, message, cause)
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps an error to the status code the admin surface should
// respond with. Errors that are not *Error fall back to 500.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindEvaluationError, KindDispatchError, KindEngineError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
