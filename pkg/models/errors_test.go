package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	cause := errors.New("connection refused")

	assert.True(t, IsServiceCallError(NewServiceCallError("a1", "unknown service", nil)))
	assert.True(t, IsRetryExhausted(NewRetryExhaustedError("a1", 4, cause)))
	assert.True(t, IsParseError(NewParseError("actions[0]", "unrecognized step shape")))
	assert.True(t, IsInvalidAction(NewInvalidActionError("actions[1].delay", "negative duration")))

	assert.False(t, IsServiceCallError(NewParseError("x", "y")))
	assert.False(t, IsRetryExhausted(errors.New("plain")))
}

func TestErrorPredicates_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("run failed: %w", NewServiceCallError("a1", "rejected", nil))

	assert.True(t, IsServiceCallError(wrapped))

	execErr, ok := AsExecutionError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "a1", execErr.ActionID)
}

func TestExecutionError_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewRetryExhaustedError("a1", 4, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "retry_exhausted")
	assert.Contains(t, err.Error(), "4 attempts")
}

func TestStateError_NamesTransition(t *testing.T) {
	err := NewStateError("a1", StateSuccess, StateExecuting)

	assert.Contains(t, err.Error(), "success -> executing")
	assert.Equal(t, ErrKindExecution, err.Kind)
}
