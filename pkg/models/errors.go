package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies terminal action failures. The zero value means no
// error.
type ErrorKind string

const (
	// ErrKindExecution marks internal invariant violations, such as an
	// illegal state transition. These abort the whole run.
	ErrKindExecution ErrorKind = "execution_error"
	// ErrKindServiceCall marks a deterministic, non-retryable gateway
	// rejection (unknown service, malformed parameters).
	ErrKindServiceCall ErrorKind = "service_call_error"
	// ErrKindParse marks a malformed definition document.
	ErrKindParse ErrorKind = "action_parse_error"
	// ErrKindRetryExhausted marks a transient-class failure that persisted
	// past max_retries, implying the full backoff schedule ran.
	ErrKindRetryExhausted ErrorKind = "retry_exhausted"
	// ErrKindInvalidAction marks a structurally invalid node or a template
	// rendering failure.
	ErrKindInvalidAction ErrorKind = "invalid_action"
)

// ExecutionError is the typed error shared by the parser and executor.
type ExecutionError struct {
	Kind     ErrorKind
	ActionID string
	Detail   string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	if e.ActionID != "" {
		msg = fmt.Sprintf("%s (action %s)", msg, e.ActionID)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewServiceCallError wraps a non-retryable gateway rejection.
func NewServiceCallError(actionID, detail string, err error) *ExecutionError {
	return &ExecutionError{Kind: ErrKindServiceCall, ActionID: actionID, Detail: detail, Err: err}
}

// NewRetryExhaustedError wraps a retryable failure that survived the full
// backoff schedule.
func NewRetryExhaustedError(actionID string, attempts int, err error) *ExecutionError {
	return &ExecutionError{
		Kind:     ErrKindRetryExhausted,
		ActionID: actionID,
		Detail:   fmt.Sprintf("still failing after %d attempts", attempts),
		Err:      err,
	}
}

// NewParseError names the offending definition fragment and the reason it
// cannot be executed.
func NewParseError(fragment, reason string) *ExecutionError {
	return &ExecutionError{Kind: ErrKindParse, Detail: fmt.Sprintf("%s: %s", fragment, reason)}
}

// NewInvalidActionError marks a structurally invalid node.
func NewInvalidActionError(fragment, reason string) *ExecutionError {
	return &ExecutionError{Kind: ErrKindInvalidAction, Detail: fmt.Sprintf("%s: %s", fragment, reason)}
}

// NewRenderError marks a template resolution failure on an otherwise valid
// node; rendering failures surface as invalid_action per the renderer
// contract.
func NewRenderError(actionID string, err error) *ExecutionError {
	return &ExecutionError{Kind: ErrKindInvalidAction, ActionID: actionID, Detail: "template rendering failed", Err: err}
}

// NewStateError marks an illegal state machine transition.
func NewStateError(actionID string, from, to ExecutionState) *ExecutionError {
	return &ExecutionError{
		Kind:     ErrKindExecution,
		ActionID: actionID,
		Detail:   fmt.Sprintf("illegal transition %s -> %s", from, to),
	}
}

// AsExecutionError unwraps err into an *ExecutionError when possible.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}

	return nil, false
}

func hasKind(err error, kind ErrorKind) bool {
	execErr, ok := AsExecutionError(err)

	return ok && execErr.Kind == kind
}

func IsServiceCallError(err error) bool { return hasKind(err, ErrKindServiceCall) }

func IsParseError(err error) bool { return hasKind(err, ErrKindParse) }

func IsRetryExhausted(err error) bool { return hasKind(err, ErrKindRetryExhausted) }

func IsInvalidAction(err error) bool { return hasKind(err, ErrKindInvalidAction) }
