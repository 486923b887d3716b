// Package events defines the history events published while process instances run.
package events

import (
	"time"
)

type EventType string

// Topic carries every history event.
const Topic = "bpmnvm.history"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
	TenantIDMetadataKey  = "tenant_id"
)

const (
	// Process instance lifecycle events.
	ProcessStartedEvent   EventType = "process.started"
	ProcessCompletedEvent EventType = "process.completed"
	ProcessSuspendedEvent EventType = "process.suspended"
	ProcessActivatedEvent EventType = "process.activated"

	// Activity events.
	ActivityStartedEvent EventType = "activity.started"
	ActivityEndedEvent   EventType = "activity.ended"

	// Job events.
	JobRestoredEvent EventType = "job.restored"

	// AnyEvent registers a handler for every type without a handler of its own.
	AnyEvent EventType = "*"
)

type BaseEvent struct {
	ID                  string         `json:"id"`
	Type                EventType      `json:"type"`
	Timestamp           time.Time      `json:"timestamp"`
	TenantID            string         `json:"tenant_id,omitempty"`
	ProcessInstanceID   string         `json:"process_instance_id"`
	ProcessDefinitionID string         `json:"process_definition_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

func (e BaseEvent) GetTenantID() string {
	return e.TenantID
}

type ProcessStarted struct {
	BaseEvent

	BusinessKey string `json:"business_key,omitempty"`
}

func (e ProcessStarted) GetType() EventType {
	return ProcessStartedEvent
}

type ProcessCompleted struct {
	BaseEvent

	Variables map[string]any `json:"variables,omitempty"`
}

func (e ProcessCompleted) GetType() EventType {
	return ProcessCompletedEvent
}

type ProcessSuspended struct {
	BaseEvent

	SuspendedJobs int `json:"suspended_jobs"`
}

func (e ProcessSuspended) GetType() EventType {
	return ProcessSuspendedEvent
}

type ProcessActivated struct {
	BaseEvent

	ActivatedJobs int `json:"activated_jobs"`
}

func (e ProcessActivated) GetType() EventType {
	return ProcessActivatedEvent
}

type ActivityStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ActivityID  string `json:"activity_id"`
}

func (e ActivityStarted) GetType() EventType {
	return ActivityStartedEvent
}

type ActivityEnded struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ActivityID  string `json:"activity_id"`
}

func (e ActivityEnded) GetType() EventType {
	return ActivityEndedEvent
}

// JobRestored is published when a dead-letter job is made executable again.
type JobRestored struct {
	BaseEvent

	JobID   string `json:"job_id"`
	Retries int    `json:"retries"`
}

func (e JobRestored) GetType() EventType {
	return JobRestoredEvent
}

// New returns an empty event of eventType to decode a payload into, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case ProcessStartedEvent:
		return &ProcessStarted{}
	case ProcessCompletedEvent:
		return &ProcessCompleted{}
	case ProcessSuspendedEvent:
		return &ProcessSuspended{}
	case ProcessActivatedEvent:
		return &ProcessActivated{}
	case ActivityStartedEvent:
		return &ActivityStarted{}
	case ActivityEndedEvent:
		return &ActivityEnded{}
	case JobRestoredEvent:
		return &JobRestored{}
	default:
		return nil
	}
}
