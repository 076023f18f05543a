// Package errors provides error handling for Wflow.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Sentinel errors for the scheduling and execution core.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested schedule, execution, or workflow
	// does not exist
	ErrNotFound = New("not found")

	// ErrInvalidExpression indicates a cron expression or timezone could not
	// be parsed. Raised eagerly at schedule creation, never at fire time.
	ErrInvalidExpression = New("invalid cron expression")

	// ErrIllegalTransition indicates an execution state-machine violation,
	// e.g. completing an already-cancelled execution
	ErrIllegalTransition = New("illegal execution state transition")

	// ErrProvisioning indicates a browser session could not be created.
	// The execution goes straight from pending to failed.
	ErrProvisioning = New("session provisioning failed")

	// ErrTimeout indicates an execution exceeded its configured budget
	ErrTimeout = New("execution timed out")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// StepError is raised by the step executor collaborator when a single
// workflow step fails. Required classifies propagation: required step
// failures abort the execution, optional ones are logged and absorbed.
type StepError struct {
	StepID   string
	StepType string
	Required bool
	Err      error
}

func (e *StepError) Error() string {
	return "step " + e.StepID + " (" + e.StepType + "): " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError wraps a step-level failure with its classification.
func NewStepError(stepID, stepType string, required bool, err error) *StepError {
	return &StepError{StepID: stepID, StepType: stepType, Required: required, Err: err}
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidExpressionError checks if an error is or wraps ErrInvalidExpression.
func IsInvalidExpressionError(err error) bool {
	return err != nil && Is(err, ErrInvalidExpression)
}

// IsIllegalTransitionError checks if an error is or wraps ErrIllegalTransition.
func IsIllegalTransitionError(err error) bool {
	return err != nil && Is(err, ErrIllegalTransition)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidExpressionError creates an invalid-expression error with a
// formatted message
func NewInvalidExpressionError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidExpression, Newf(format, args...).Error())
}
