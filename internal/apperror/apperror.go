package apperror

import (
	"errors"
	"net/http"
)

// Error is a coded failure shared by the pipeline stages. StatusCode keeps
// the HTTP status that produced it when the failure came from an HTTP
// backend, which is what the dispatcher uses to pick a retry policy.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error
}

func (e *Error) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &Error{
		Code:       "conflict",
		Message:    "The resource is in a conflicting state",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidBucket = &Error{
		Code:       "invalid_bucket",
		Message:    "No storage backend is configured for this bucket",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimited = &Error{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// FromStatus classifies an HTTP status returned by an external dependency.
func FromStatus(status int, err error) *Error {
	switch {
	case status == http.StatusNotFound:
		return Wrap(err, ErrNotFound)
	case status == http.StatusTooManyRequests:
		return Wrap(err, ErrRateLimited)
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return Wrap(err, ErrConflict)
	case status >= 500:
		return Wrap(err, ErrServiceUnavailable)
	case status >= 400:
		return Wrap(err, ErrBadRequest)
	default:
		return Wrap(err, ErrInternal)
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}
