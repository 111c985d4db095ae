// Package protocol defines the narrow contracts between the execution core
// and its external collaborators.
package protocol

import (
	"context"
	"fmt"
)

// CallResult is a successful gateway response.
type CallResult struct {
	StatusCode int            `json:"status_code"`
	Response   map[string]any `json:"response,omitempty"`
}

// CallError is a failed gateway invocation. Retryable distinguishes
// transient transport/server failures from deterministic platform
// rejections, which must never be retried.
type CallError struct {
	Retryable  bool
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service call failed: %s: %v", e.Message, e.Err)
	}

	return fmt.Sprintf("service call failed: %s", e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ServiceGateway performs one service invocation against the target
// platform. Implementations own transport, authentication and their own
// timeout; the executor applies a secondary backstop timeout through ctx.
// Implementations must be safe for concurrent use by multiple workers.
type ServiceGateway interface {
	Call(ctx context.Context, domain, service string, target []string, data map[string]any) (*CallResult, error)
}
