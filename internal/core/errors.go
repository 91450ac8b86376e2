package core

import (
	"errors"
	"fmt"
)

// Standard error codes used in OJS error responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
)

// OJSError represents a structured error conforming to the OJS error format.
type OJSError struct {
	Code      string         `json:"code,omitempty"`
	Type      string         `json:"type,omitempty"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func (e *OJSError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewInvalidRequestError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:      ErrCodeInvalidRequest,
		Message:   message,
		Retryable: false,
		Details:   details,
	}
}

func NewNotFoundError(resourceType, resourceID string) *OJSError {
	return &OJSError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Retryable: false,
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

func NewConflictError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:      ErrCodeConflict,
		Message:   message,
		Retryable: false,
		Details:   details,
	}
}

func NewValidationError(message string, details map[string]any) *OJSError {
	return &OJSError{
		Code:      ErrCodeValidationError,
		Type:      ErrCodeValidationError,
		Message:   message,
		Retryable: false,
		Details:   details,
	}
}

func NewInternalError(message string) *OJSError {
	return &OJSError{
		Code:      ErrCodeInternalError,
		Message:   message,
		Retryable: true,
	}
}

// ErrorCode returns the OJS code carried by err, or "" for foreign errors.
func ErrorCode(err error) string {
	var ojsErr *OJSError
	if errors.As(err, &ojsErr) {
		return ojsErr.Code
	}
	return ""
}

func IsNotFound(err error) bool   { return ErrorCode(err) == ErrCodeNotFound }
func IsValidation(err error) bool { return ErrorCode(err) == ErrCodeValidationError }
func IsConflict(err error) bool   { return ErrorCode(err) == ErrCodeConflict }
