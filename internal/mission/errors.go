package mission

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific mission error types.
type ErrorCode string

const (
	// ErrNotLoaded indicates no mission is currently loaded.
	ErrNotLoaded ErrorCode = "mission_not_loaded"

	// ErrCompile indicates the submitted tree failed to compile.
	ErrCompile ErrorCode = "compile_failed"

	// ErrValidate indicates load-time validation failed (for example a
	// delegated node's session could not be established).
	ErrValidate ErrorCode = "validate_failed"

	// ErrInvalidState indicates an invalid status transition was
	// attempted.
	ErrInvalidState ErrorCode = "invalid_state_transition"

	// ErrMissingLeases indicates a Play/Restart request did not cover
	// the tree's lease requirements.
	ErrMissingLeases ErrorCode = "missing_leases"

	// ErrQuestionNotFound indicates the question ID is not pending.
	ErrQuestionNotFound ErrorCode = "question_not_found"

	// ErrInvalidAnswerCode indicates the answer code is not one of the
	// question's declared options.
	ErrInvalidAnswerCode ErrorCode = "invalid_answer_code"

	// ErrAlreadyAnswered indicates the question was answered before.
	ErrAlreadyAnswered ErrorCode = "already_answered"

	// ErrInternal indicates an internal interpreter fault.
	ErrInternal ErrorCode = "internal_error"
)

// Error is a mission-specific error with a code and optional context.
// It supports error wrapping with errors.Is/As.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface for chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two mission errors by code.
func (e *Error) Is(target error) bool {
	var me *Error
	if errors.As(target, &me) {
		return e.Code == me.Code
	}
	return false
}

// WithContext adds contextual information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with mission error context.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewInvalidStateError creates an invalid status transition error.
func NewInvalidStateError(current, target Status) *Error {
	return NewError(
		ErrInvalidState,
		fmt.Sprintf("invalid status transition from %s to %s", current, target),
	).WithContext("current_status", current).
		WithContext("target_status", target)
}

// IsCode checks whether err carries the given mission error code.
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}
