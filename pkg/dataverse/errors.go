package dataverse

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies API client failures.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeTransport ErrorType = "transport"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeRequest   ErrorType = "request"
)

// Error is a structured API error with retry classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Endpoint   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed operation can be retried.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured API error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// IsRetryable returns true if the error is a retryable API error.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return false
}
