package schema

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNodeFailed         = "NODE_FAILED"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeWriteActionPending = "WRITE_ACTION_PENDING"
	ErrCodeFastTrackTimeout   = "FAST_TRACK_TIMEOUT"
	ErrCodeSuperseded         = "SUPERSEDED"
	ErrCodeRetryExhausted     = "RETRY_EXHAUSTED"
	ErrCodeDeadlockRisk       = "DEADLOCK_RISK"
	ErrCodeStructural         = "STRUCTURAL_ERROR"
	ErrCodeShutdown           = "SHUTDOWN"
	ErrCodeExpression         = "EXPRESSION_ERROR"
	ErrCodeInterpolation      = "INTERPOLATION_ERROR"
	ErrCodeConfig             = "CONFIG_ERROR"
)

// Cancellation reasons shared by the engine. Compare with errors.Is: any
// ActionError carrying the same code matches.
var (
	ErrWriteActionPending = NewError(ErrCodeWriteActionPending, "write action pending")
	ErrFastTrackTimeout   = NewError(ErrCodeFastTrackTimeout, "fast track timed out")
	ErrSuperseded         = NewError(ErrCodeSuperseded, "superseded by a newer update")
	ErrDeadlockRisk       = NewError(ErrCodeDeadlockRisk, "coordinator re-entered too deeply")
	ErrPassTimeout        = NewError(ErrCodeTimeout, "update pass timed out")
	ErrShutdown           = NewError(ErrCodeShutdown, "engine is shut down")
)

// ActionError is the structured error type for all engine operations.
type ActionError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ActionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// Is matches any ActionError with the same code.
func (e *ActionError) Is(target error) bool {
	var t *ActionError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError creates a new ActionError.
func NewError(code, message string) *ActionError {
	return &ActionError{Code: code, Message: message}
}

// NewErrorf creates a new ActionError with a formatted message.
func NewErrorf(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node identity to the error.
func (e *ActionError) WithNode(nodeID string) *ActionError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *ActionError) WithCause(err error) *ActionError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ActionError) WithDetails(details map[string]any) *ActionError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost ActionError in err's chain, or "".
func CodeOf(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCancellation reports whether err ends a pass without being a failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch CodeOf(err) {
	case ErrCodeCancelled, ErrCodeWriteActionPending, ErrCodeFastTrackTimeout,
		ErrCodeSuperseded, ErrCodeRetryExhausted, ErrCodeDeadlockRisk,
		ErrCodeTimeout, ErrCodeShutdown:
		return true
	}
	return false
}

// IsRecoverable reports whether a cancelled pass may simply be run again.
// Only contention with a pending write and an expired fast track qualify;
// the outermost code decides, so an exhausted retry wrapping either is final.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeWriteActionPending, ErrCodeFastTrackTimeout:
		return true
	}
	return false
}
