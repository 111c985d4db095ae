package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions_RetryCycle(t *testing.T) {
	n := NewServiceCall("light", "turn_on", []string{"light.office"}, nil)

	require.Equal(t, StateQueued, n.State)
	require.NoError(t, n.Transition(StateExecuting))
	require.NoError(t, n.Transition(StateRetrying))
	require.NoError(t, n.Transition(StateExecuting))
	require.NoError(t, n.Transition(StateSuccess))
}

func TestStateTransitions_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []ExecutionState{StateSuccess, StateFailed, StateCancelled} {
		n := NewDelay(0)
		n.State = terminal

		err := n.Transition(StateExecuting)
		require.Error(t, err)

		execErr, ok := AsExecutionError(err)
		require.True(t, ok)
		assert.Equal(t, ErrKindExecution, execErr.Kind)
		assert.Equal(t, terminal, n.State, "state must not move out of a terminal state")
	}
}

func TestStateTransitions_CancellableFromAnyNonTerminal(t *testing.T) {
	for _, state := range []ExecutionState{StateQueued, StateExecuting, StateRetrying} {
		assert.True(t, state.CanTransitionTo(StateCancelled), "expected %s -> cancelled", state)
	}
}

func TestStateTransitions_QueuedToSuccessIsSyntheticNoOp(t *testing.T) {
	// Unselected choose branches jump straight to success.
	n := NewSequence()
	require.NoError(t, n.Transition(StateSuccess))
}

func TestStateTransitions_NoSkippingQueue(t *testing.T) {
	n := NewDelay(0)

	assert.Error(t, n.Transition(StateRetrying))
	assert.Error(t, n.Transition(StateFailed))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateExecuting.Terminal())
	assert.False(t, StateRetrying.Terminal())
}
