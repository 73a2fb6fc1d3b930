package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures for transport mapping.
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindAuthentication     ErrorKind = "AuthenticationError"
	KindAuthorization      ErrorKind = "AuthorizationError"
	KindNotFound           ErrorKind = "NotFoundError"
	KindConflict           ErrorKind = "ConflictError"
	KindState              ErrorKind = "StateError"
	KindExternalDependency ErrorKind = "ExternalDependencyError"
	KindInternal           ErrorKind = "InternalError"
)

// FieldError points at a single offending input field
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// AppError is the typed error produced at decision sites.
type AppError struct {
	Kind    ErrorKind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another AppError by kind so errors.Is(err, common.ErrNotFound) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// HTTPStatus maps the kind to its status code
func (e *AppError) HTTPStatus() int {
	return StatusForKind(e.Kind)
}

// StatusForKind returns the HTTP status for an error kind
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindState:
		return http.StatusUnprocessableEntity
	case KindExternalDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &AppError{Kind: KindValidation}
	ErrAuthentication     = &AppError{Kind: KindAuthentication}
	ErrAuthorization      = &AppError{Kind: KindAuthorization}
	ErrNotFound           = &AppError{Kind: KindNotFound}
	ErrConflict           = &AppError{Kind: KindConflict}
	ErrState              = &AppError{Kind: KindState}
	ErrExternalDependency = &AppError{Kind: KindExternalDependency}
	ErrInternal           = &AppError{Kind: KindInternal}
)

func Validation(message string, fields ...FieldError) error {
	return &AppError{Kind: KindValidation, Message: message, Fields: fields}
}

func Unauthenticated(message string) error {
	return &AppError{Kind: KindAuthentication, Message: message}
}

func Forbidden(reason string) error {
	return &AppError{Kind: KindAuthorization, Message: reason}
}

func NotFound(resource string) error {
	return &AppError{Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(message string, err error) error {
	return &AppError{Kind: KindConflict, Message: message, Err: err}
}

func StateError(message string) error {
	return &AppError{Kind: KindState, Message: message}
}

func External(message string, err error) error {
	return &AppError{Kind: KindExternalDependency, Message: message, Err: err}
}

func Internal(message string, err error) error {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// AsAppError unwraps err into an AppError, classifying unknown errors as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf returns the error kind, or empty for nil
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsAppError(err).Kind
}
