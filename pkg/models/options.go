package models

import "time"

// Defaults for run options. The backoff schedule with the defaults is
// 1s, 2s, 4s across the three retries.
const (
	DefaultMaxRetries          = 3
	DefaultInitialRetryDelay   = time.Second
	DefaultPerActionTimeout    = 30 * time.Second
	DefaultMaxRepeatIterations = 1000
)

// RunOptions tune a single submission. Zero values fall back to the
// defaults; MaxRetries uses a pointer so an explicit zero disables retries.
type RunOptions struct {
	MaxRetries          *int          `json:"max_retries,omitempty"          validate:"omitempty,min=0,max=10"`
	InitialRetryDelay   time.Duration `json:"initial_retry_delay,omitempty"  validate:"min=0"`
	PerActionTimeout    time.Duration `json:"per_action_timeout,omitempty"   validate:"min=0"`
	RunDeadline         time.Duration `json:"run_deadline,omitempty"         validate:"min=0"`
	MaxRepeatIterations int           `json:"max_repeat_iterations,omitempty" validate:"min=0"`
	CorrelationID       string        `json:"correlation_id,omitempty"`
}

// Normalized returns a copy with defaults applied.
func (o RunOptions) Normalized() RunOptions {
	if o.MaxRetries == nil {
		retries := DefaultMaxRetries
		o.MaxRetries = &retries
	}

	if o.InitialRetryDelay <= 0 {
		o.InitialRetryDelay = DefaultInitialRetryDelay
	}

	if o.PerActionTimeout <= 0 {
		o.PerActionTimeout = DefaultPerActionTimeout
	}

	if o.MaxRepeatIterations <= 0 {
		o.MaxRepeatIterations = DefaultMaxRepeatIterations
	}

	return o
}
