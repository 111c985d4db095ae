// Package events defines event types for run lifecycle notifications.
package events

import (
	"time"

	"github.com/castellan/castellan/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "castellan.events"

const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent     EventType = "run.started"
	ActionFinishedEvent EventType = "action.finished"
	RunFinishedEvent    EventType = "run.finished"
)

// Event is implemented by every lifecycle notification.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	RunID         string         `json:"run_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, runID, correlationID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		RunID:         runID,
		CorrelationID: correlationID,
	}
}

type RunStarted struct {
	BaseEvent

	ActionCount int `json:"action_count"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type ActionFinished struct {
	BaseEvent

	ActionID  string                `json:"action_id"`
	Kind      models.NodeKind       `json:"kind"`
	Domain    string                `json:"domain,omitempty"`
	Service   string                `json:"service,omitempty"`
	State     models.ExecutionState `json:"state"`
	ErrorKind models.ErrorKind      `json:"error_kind,omitempty"`
	Attempts  int                   `json:"attempts"`
	Duration  time.Duration         `json:"duration"`
}

func (e ActionFinished) GetType() EventType {
	return ActionFinishedEvent
}

type RunFinished struct {
	BaseEvent

	OverallSuccess bool          `json:"overall_success"`
	ResultCount    int           `json:"result_count"`
	TotalDuration  time.Duration `json:"total_duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}
