// Package model holds the shared types of the orchestration core: workflow
// statuses, aggregate state records, message contracts, and the error envelope.
package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrAlreadyInitialized = "ALREADY_INITIALIZED"
	ErrInternalError      = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	ErrWorkflowTerminal = "WORKFLOW_TERMINAL"
)

// ErrorEnvelope is the standard error value returned by the orchestration
// core. It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewAlreadyInitializedError returns an ALREADY_INITIALIZED error.
func NewAlreadyInitializedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrAlreadyInitialized, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewWorkflowNotFoundError returns a WORKFLOW_NOT_FOUND error.
func NewWorkflowNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotFound, Message: msg}
}

// NewWorkflowTerminalError returns a WORKFLOW_TERMINAL error.
func NewWorkflowTerminalError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowTerminal, Message: msg}
}

// IsCode reports whether err is an ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	env, ok := err.(*ErrorEnvelope)
	return ok && env.Code == code
}
