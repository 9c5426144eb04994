package automation

import (
	"errors"
	"fmt"
)

// ErrorCode is the failure taxonomy of a step outcome.
type ErrorCode string

const (
	// ErrUnknownStepKind is fatal and reported before a run starts.
	ErrUnknownStepKind ErrorCode = "UnknownStepKind"
	ErrInvalidInput    ErrorCode = "InvalidInput"
	ErrMissingRef      ErrorCode = "MissingReference"
	ErrActionFailure   ErrorCode = "ActionFailure"
	ErrTimeout         ErrorCode = "Timeout"
	ErrStepCrashed     ErrorCode = "StepCrashed"
	ErrStepUnavailable ErrorCode = "StepUnavailable"
)

// StepError describes why a step did not produce outputs.
type StepError struct {
	Code    ErrorCode `json:"code"`
	StepID  string    `json:"stepId,omitempty"`
	Message string    `json:"message"`
	// Status is the optional status code an action reported, e.g. an HTTP
	// status from an outgoing webhook.
	Status int   `json:"status,omitempty"`
	Cause  error `json:"-"`
}

func (e *StepError) Error() string {
	prefix := string(e.Code)
	if e.StepID != "" {
		prefix = fmt.Sprintf("%s (step %s)", e.Code, e.StepID)
	}
	if e.Cause != nil && e.Message == "" {
		return prefix + ": " + e.Cause.Error()
	}
	return prefix + ": " + e.Message
}

func (e *StepError) Unwrap() error { return e.Cause }

// ErrorType returns the code as a string.
func (e *StepError) ErrorType() string { return string(e.Code) }

// IsRetryable reports whether the step retry policy applies.
func (e *StepError) IsRetryable() bool {
	return e.Code == ErrActionFailure || e.Code == ErrTimeout
}

// ActionFailure is returned by action implementations for expected failures.
// Any other error returned by an action is treated as a crash.
type ActionFailure struct {
	Message string
	Status  int
}

func (f *ActionFailure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s (status %d)", f.Message, f.Status)
	}
	return f.Message
}

// Failf builds an ActionFailure with a formatted message.
func Failf(format string, args ...any) *ActionFailure {
	return &ActionFailure{Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries a StepError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StepError
	return errors.As(err, &se) && se.Code == code
}

func newStepError(code ErrorCode, stepID, format string, args ...any) *StepError {
	return &StepError{Code: code, StepID: stepID, Message: fmt.Sprintf(format, args...)}
}
