package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeToolUnavailable   = "TOOL_UNAVAILABLE"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
)

// ConveyorError is the structured error type for all engine operations.
type ConveyorError struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	TransitionID string         `json:"transition_id,omitempty"`
	Cause        error          `json:"-"`
}

func (e *ConveyorError) Error() string {
	if e.TransitionID != "" {
		return fmt.Sprintf("[%s] transition %s: %s", e.Code, e.TransitionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ConveyorError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ConveyorError.
func NewError(code, message string) *ConveyorError {
	return &ConveyorError{Code: code, Message: message}
}

// NewErrorf creates a new ConveyorError with a formatted message.
func NewErrorf(code, format string, args ...any) *ConveyorError {
	return &ConveyorError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTransition attaches a transition ID to the error.
func (e *ConveyorError) WithTransition(id string) *ConveyorError {
	e.TransitionID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *ConveyorError) WithCause(err error) *ConveyorError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ConveyorError) WithDetails(details map[string]any) *ConveyorError {
	e.Details = details
	return e
}

// CodeOf returns the error code of the first ConveyorError in err's chain,
// or "" if there is none.
func CodeOf(err error) string {
	var ce *ConveyorError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
