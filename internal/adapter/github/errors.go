package github

import (
	"errors"
	"fmt"
)

// ErrorType categorizes remote API failures.
type ErrorType int

const (
	ErrTypeAuthentication ErrorType = iota
	ErrTypeRateLimit
	ErrTypeNotFound
	ErrTypeInvalidRequest
	ErrTypeServiceUnavailable
	ErrTypeUnknown
)

// String returns a human-readable description of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrTypeAuthentication:
		return "authentication error"
	case ErrTypeRateLimit:
		return "rate limit exceeded"
	case ErrTypeNotFound:
		return "not found"
	case ErrTypeInvalidRequest:
		return "invalid request"
	case ErrTypeServiceUnavailable:
		return "service unavailable"
	default:
		return "unknown error"
	}
}

// Error is a categorized remote API error.
type Error struct {
	Type       ErrorType
	Operation  string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s (status: %d)", e.Operation, e.Type.String(), e.Message, e.StatusCode)
}

// Retryable reports whether the failure is transient and a later retry may
// succeed.
func (e *Error) Retryable() bool {
	return e.Type == ErrTypeRateLimit || e.Type == ErrTypeServiceUnavailable
}

// Is matches errors by type, so callers can test errors.Is against a
// prototype with only Type set.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type
}

// mapStatusError categorizes an HTTP failure status.
func mapStatusError(operation string, statusCode int, body []byte) error {
	errType := ErrTypeUnknown
	switch {
	case statusCode == 401:
		errType = ErrTypeAuthentication
	case statusCode == 403 || statusCode == 429:
		errType = ErrTypeRateLimit
	case statusCode == 404:
		errType = ErrTypeNotFound
	case statusCode == 422:
		errType = ErrTypeInvalidRequest
	case statusCode >= 500:
		errType = ErrTypeServiceUnavailable
	}
	message := string(body)
	if len(message) > 200 {
		message = message[:200]
	}
	return &Error{
		Type:       errType,
		Operation:  operation,
		Message:    message,
		StatusCode: statusCode,
	}
}
