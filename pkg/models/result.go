package models

import "time"

// ExecutionResult is the immutable outcome of one leaf that reached a
// terminal state. Composites normally do not appear; the exception is a
// repeat or choose branch whose condition could not be rendered, which is
// surfaced as a failed invalid_action entry.
type ExecutionResult struct {
	ActionID    string         `json:"action_id"`
	Kind        NodeKind       `json:"kind"`
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	State       ExecutionState `json:"state"`
	Success     bool           `json:"success"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Attempts    int            `json:"attempts_used"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Duration    time.Duration  `json:"duration"`
}

// ExecutionSummary is the aggregate, caller-visible outcome of one top-level
// submission. Results holds one entry per leaf actually attempted; leaves
// aborted by a failed earlier sibling are absent, which is how callers
// distinguish "never ran" from "ran and failed".
type ExecutionSummary struct {
	RunID          string            `json:"run_id"`
	CorrelationID  string            `json:"correlation_id"`
	Results        []ExecutionResult `json:"results"`
	OverallSuccess bool              `json:"overall_success"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	TotalDuration  time.Duration     `json:"total_duration"`
}

// CancelledCount reports how many results ended cancelled, for callers
// inspecting partial completion after a deadline.
func (s *ExecutionSummary) CancelledCount() int {
	count := 0

	for _, r := range s.Results {
		if r.State == StateCancelled {
			count++
		}
	}

	return count
}
