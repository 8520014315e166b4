package apierror

import (
	"errors"
	"net/http"
)

// Error is the error half of the API envelope. StatusCode picks the HTTP
// status and never reaches the body.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

func newError(status int, code, message, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{StatusCode: status, Code: code, Message: message}
}

// BadRequest creates a 400 error for malformed requests.
func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message, "Bad request")
}

// ValidationError creates a 400 error naming the offending fields.
func ValidationError(message string, details ...FieldError) *Error {
	e := newError(http.StatusBadRequest, "VALIDATION_ERROR", message, "Validation failed")
	e.Details = details
	return e
}

// Unauthorized creates a 401 error for requests without an identity.
func Unauthorized(message string) *Error {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message, "Authentication required")
}

// Forbidden creates a 403 error for identities lacking a role or ownership.
func Forbidden(message string) *Error {
	return newError(http.StatusForbidden, "FORBIDDEN", message, "Access denied")
}

// NotFound creates a 404 error.
func NotFound(message string) *Error {
	return newError(http.StatusNotFound, "NOT_FOUND", message, "Resource not found")
}

// Conflict creates a 409 error for requests that clash with current state.
func Conflict(message string) *Error {
	return newError(http.StatusConflict, "CONFLICT", message, "Conflict")
}

// InsufficientResource creates a 409 error for actions the caller cannot
// afford: low energy or token balance.
func InsufficientResource(message string) *Error {
	return newError(http.StatusConflict, "INSUFFICIENT_RESOURCE", message, "Insufficient resource")
}

// DecodeFailed creates a 422 error for stored bytes that cannot be read as
// the requested kind.
func DecodeFailed(message string) *Error {
	return newError(http.StatusUnprocessableEntity, "DECODE_ERROR", message, "Value cannot be decoded")
}

// CooldownActive creates a 429 error for actions retried too early.
func CooldownActive(message string) *Error {
	return newError(http.StatusTooManyRequests, "COOLDOWN_ACTIVE", message, "Cooldown active")
}

// InternalError creates a 500 error. Callers pass "" to hide internals.
func InternalError(message string) *Error {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", message, "An unexpected error occurred")
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *Error {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, "Service temporarily unavailable")
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
