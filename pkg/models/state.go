package models

// ExecutionState is the per-node lifecycle state. States only advance; the
// sole permitted backward path is the retry cycle
// QUEUED -> EXECUTING -> RETRYING -> EXECUTING.
type ExecutionState string

const (
	StateQueued    ExecutionState = "queued"
	StateExecuting ExecutionState = "executing"
	StateRetrying  ExecutionState = "retrying"
	StateSuccess   ExecutionState = "success"
	StateFailed    ExecutionState = "failed"
	StateCancelled ExecutionState = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s ExecutionState) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateCancelled
}

// validTransitions is the closed transition table. QUEUED -> SUCCESS covers
// the synthetic no-op applied to unselected choose branches; every
// non-terminal state may move to CANCELLED on deadline expiry or caller
// cancellation.
var validTransitions = map[ExecutionState][]ExecutionState{
	StateQueued:    {StateExecuting, StateSuccess, StateCancelled},
	StateExecuting: {StateSuccess, StateFailed, StateRetrying, StateCancelled},
	StateRetrying:  {StateExecuting, StateCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s ExecutionState) CanTransitionTo(next ExecutionState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Transition advances the node's state. An attempted transition out of a
// terminal state, or any move outside the table, is a programmer error and
// returns a fatal execution error for the run.
func (n *ActionNode) Transition(next ExecutionState) error {
	if !n.State.CanTransitionTo(next) {
		return NewStateError(n.ID, n.State, next)
	}

	n.State = next

	return nil
}
