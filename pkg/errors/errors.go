// Package errors defines the error kinds surfaced by the search service and
// maps them to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidSearch      = errors.New("invalid search")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBackendUnavailable = errors.New("search backend unavailable")
	ErrSessionNotFound    = errors.New("search session not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
)

// AppError carries a user-facing message and the HTTP status it maps to.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidSearch returns a caller-correctable search error. The message is
// shown to the caller verbatim.
func InvalidSearch(format string, args ...any) *AppError {
	return Newf(ErrInvalidSearch, http.StatusBadRequest, format, args...)
}

// BackendError is a non-success response from the remote search engine.
// StatusCode and Body are propagated to the caller unchanged.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("search backend returned %d: %s", e.StatusCode, e.Body)
}

// Message returns the user-facing message of err, falling back to err.Error().
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Body
	}
	return err.Error()
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidSearch), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
