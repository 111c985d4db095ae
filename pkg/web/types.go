// Package web provides HTTP handlers for submitting automation runs.
package web

import (
	"time"

	"github.com/castellan/castellan/pkg/models"
)

// ExecuteRunRequest is the body of POST /runs. Definition holds the
// automation document; Context is passed through opaquely to the template
// renderer.
type ExecuteRunRequest struct {
	Definition map[string]any    `json:"definition" validate:"required"`
	Context    map[string]any    `json:"context,omitempty"`
	Options    RunOptionsRequest `json:"options,omitempty"`
}

// RunOptionsRequest carries the optional per-run tunables. Durations are
// milliseconds on the wire.
type RunOptionsRequest struct {
	MaxRetries           *int   `json:"max_retries,omitempty"            validate:"omitempty,min=0,max=10"`
	InitialRetryDelayMS  int    `json:"initial_retry_delay_ms,omitempty" validate:"min=0"`
	PerActionTimeoutMS   int    `json:"per_action_timeout_ms,omitempty"  validate:"min=0"`
	RunDeadlineMS        int    `json:"run_deadline_ms,omitempty"        validate:"min=0"`
	CorrelationID        string `json:"correlation_id,omitempty"`
}

// ToRunOptions converts wire options into executor options.
func (r RunOptionsRequest) ToRunOptions() models.RunOptions {
	return models.RunOptions{
		MaxRetries:        r.MaxRetries,
		InitialRetryDelay: time.Duration(r.InitialRetryDelayMS) * time.Millisecond,
		PerActionTimeout:  time.Duration(r.PerActionTimeoutMS) * time.Millisecond,
		RunDeadline:       time.Duration(r.RunDeadlineMS) * time.Millisecond,
		CorrelationID:     r.CorrelationID,
	}
}
