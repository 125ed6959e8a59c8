// Package apperr defines the error taxonomy shared by the store, the catalog
// gateway and the tag graph. Errors carry a machine readable Code which the
// HTTP layer turns into a status code.
//
// Usage:
//
//	if !added {
//	    return apperr.AlreadyTagged("tag already applied to album")
//	}
//
//	if apperr.Is(err, apperr.ErrNotFound) {
//	    // client input error
//	}
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-exported so callers need a single errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code is a machine readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeAlreadyTagged     Code = "ALREADY_TAGGED"
	CodeNotTagged         Code = "NOT_TAGGED"
	CodeValidation        Code = "VALIDATION"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeConflict          Code = "CONFLICT"
	CodeRemoteAuthExpired Code = "REMOTE_AUTH_EXPIRED"
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"
	CodeStore             Code = "STORE"
	CodeInternal          Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeAlreadyTagged, CodeNotTagged, CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized, CodeRemoteAuthExpired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRemoteUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClientError reports whether the code describes a problem with the caller's
// input rather than with the service or its dependencies.
func (c Code) ClientError() bool {
	s := c.HTTPStatus()
	return s >= 400 && s < 500
}

// Error is a domain error with a code, message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of e with details attached.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrAlreadyTagged     = &Error{Code: CodeAlreadyTagged, Message: "already tagged"}
	ErrNotTagged         = &Error{Code: CodeNotTagged, Message: "not tagged"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "conflict"}
	ErrRemoteAuthExpired = &Error{Code: CodeRemoteAuthExpired, Message: "catalog credential expired"}
	ErrRemoteUnavailable = &Error{Code: CodeRemoteUnavailable, Message: "catalog unavailable"}
	ErrStore             = &Error{Code: CodeStore, Message: "store error"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: CodeAlreadyExists, Message: msg}
}

// AlreadyTagged creates an error for a tag the user already applied.
func AlreadyTagged(msg string) *Error {
	return &Error{Code: CodeAlreadyTagged, Message: msg}
}

// NotTagged creates an error for a tag the user never applied.
func NotTagged(msg string) *Error {
	return &Error{Code: CodeNotTagged, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// ValidationWithDetails creates a validation error with per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Forbidden creates an error for a request the caller may not make.
func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// Conflict wraps err as a conflict.
func Conflict(msg string, err error) *Error {
	return &Error{Code: CodeConflict, Message: msg, cause: err}
}

// Store wraps a persistence failure.
func Store(msg string, err error) *Error {
	return &Error{Code: CodeStore, Message: msg, cause: err}
}

// RemoteUnavailable wraps a failed catalog call.
func RemoteUnavailable(msg string, err error) *Error {
	return &Error{Code: CodeRemoteUnavailable, Message: msg, cause: err}
}

// RemoteAuthExpired wraps a failed credential refresh.
func RemoteAuthExpired(msg string, err error) *Error {
	return &Error{Code: CodeRemoteAuthExpired, Message: msg, cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
