// Package apperr defines the error kinds returned by the case-routing core
// and the structured result envelope the HTTP layer renders.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers that need to render it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindPermission     Kind = "permission"
	KindInfrastructure Kind = "infrastructure"
)

// Error is a failure carrying a kind and a user-facing message.
type Error struct {
	Kind    Kind              `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status code.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// Validation reports bad or missing input. fields maps input names to problems.
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Conflict reports a violated state precondition.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound reports a missing entity.
func NotFound(resource string, id any) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Fields:  map[string]string{"resource": resource, "id": fmt.Sprint(id)},
	}
}

// Permission reports a failed role or ownership check. The message must not
// reveal whether the resource exists.
func Permission(message string) *Error {
	return &Error{Kind: KindPermission, Message: message}
}

// Infrastructure wraps a storage or transport failure.
func Infrastructure(op string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: op, Err: err}
}

// KindOf returns the kind of err. Errors that are not *Error are
// infrastructure failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInfrastructure
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Wrap passes *Error values through unchanged and wraps anything else as an
// infrastructure failure for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return Infrastructure(op, err)
}

func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
