// Package errors provides custom error types for the application.
// It defines domain-specific errors with error codes for better error handling and API responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

// Error codes for different error categories
const (
	// General errors (1xxx)
	ErrCodeInternal     ErrorCode = "E1000"
	ErrCodeValidation   ErrorCode = "E1001"
	ErrCodeNotFound     ErrorCode = "E1002"
	ErrCodeConflict     ErrorCode = "E1003"
	ErrCodeForbidden    ErrorCode = "E1004"
	ErrCodeUnauthorized ErrorCode = "E1005"

	// Hosting provider errors (2xxx)
	ErrCodeHostTransient ErrorCode = "E2001"
	ErrCodeHostPermanent ErrorCode = "E2002"
	ErrCodeHostAuth      ErrorCode = "E2003"
	ErrCodeWebhook       ErrorCode = "E2004"

	// AI provider errors (3xxx)
	ErrCodeAIError     ErrorCode = "E3001"
	ErrCodeAIResponse  ErrorCode = "E3002"
	ErrCodeAIRateLimit ErrorCode = "E3003"

	// Review errors (4xxx)
	ErrCodeReviewNotFound ErrorCode = "E4001"
	ErrCodeReviewFailed   ErrorCode = "E4002"
	ErrCodeGateFailed     ErrorCode = "E4003"
	ErrCodeSuperseded     ErrorCode = "E4004"
	ErrCodeBudgetExceeded ErrorCode = "E4005"

	// Database errors (5xxx)
	ErrCodeDBConnection ErrorCode = "E5001"
	ErrCodeDBQuery      ErrorCode = "E5002"
	ErrCodeDBMigration  ErrorCode = "E5003"

	// Configuration errors (6xxx)
	ErrCodeConfigNotFound ErrorCode = "E6001"
	ErrCodeConfigInvalid  ErrorCode = "E6002"
	ErrCodeConfigParse    ErrorCode = "E6003"
)

// Exit codes for application startup failures
const (
	// ExitCodeConfigValidation indicates configuration validation failure
	ExitCodeConfigValidation = 2
)

// AppError represents an application-level error with code and context
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	Details any       `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for the error
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound, ErrCodeReviewNotFound, ErrCodeConfigNotFound:
		return http.StatusNotFound
	case ErrCodeValidation, ErrCodeConfigInvalid, ErrCodeConfigParse:
		return http.StatusBadRequest
	case ErrCodeUnauthorized, ErrCodeHostAuth, ErrCodeWebhook:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeAIRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeHostTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Common error constructors for convenience

// ErrInternal creates an internal server error
func ErrInternal(message string, err error) *AppError {
	return Wrap(ErrCodeInternal, message, err)
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ErrNotFound creates a not found error
func ErrNotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

// ErrHostTransient wraps a transient hosting provider failure (network error,
// rate limit, or 5xx response) that is safe to retry
func ErrHostTransient(message string, err error) *AppError {
	return Wrap(ErrCodeHostTransient, message, err)
}

// ErrHostPermanent wraps a permanent hosting provider failure (4xx response)
// that retrying will not fix
func ErrHostPermanent(message string, err error) *AppError {
	return Wrap(ErrCodeHostPermanent, message, err)
}

// ErrAI wraps an AI provider failure
func ErrAI(message string, err error) *AppError {
	return Wrap(ErrCodeAIError, message, err)
}

// ErrSuperseded indicates a review run was made obsolete by a newer head commit
func ErrSuperseded(message string) *AppError {
	return New(ErrCodeSuperseded, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError attempts to convert an error to AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given error code anywhere in its chain
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether the error is worth retrying. Only transient
// hosting failures and AI provider failures qualify; gate failures,
// supersession, and permanent provider errors never do.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case ErrCodeHostTransient, ErrCodeAIError, ErrCodeAIRateLimit:
		return true
	default:
		return false
	}
}
