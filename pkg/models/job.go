// Package models contains the persisted records of the engine: jobs and timer declarations.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobType discriminates how a job is acquired.
type JobType string

const (
	JobTypeAsyncContinuation JobType = "async-continuation"
	JobTypeTimer             JobType = "timer"
	// JobTypeSuspended jobs belong to a suspended process instance and are never acquired.
	JobTypeSuspended JobType = "suspended"
)

// Handler types select the job handler that runs a job body.
const (
	HandlerAsyncContinuation = "async-continuation"
	HandlerTimerBoundary     = "timer-transition"
	HandlerTimerCatch        = "timer-intermediate-transition"
	HandlerCompensationEvent = "compensation-event"
)

// DefaultJobRetries is the number of attempts a job gets before being dead-lettered.
const DefaultJobRetries = 3

// Job is a persisted unit of deferred work.
type Job struct {
	ID   string  `json:"id" validate:"required"`
	Type JobType `json:"type" validate:"required,oneof=async-continuation timer suspended"`
	// SuspendedType keeps the original type while the job is suspended.
	SuspendedType JobType `json:"suspended_type,omitempty"`

	HandlerType          string `json:"handler_type" validate:"required"`
	HandlerConfiguration string `json:"handler_configuration,omitempty"`

	ExecutionID         string `json:"execution_id" validate:"required"`
	ProcessInstanceID   string `json:"process_instance_id" validate:"required"`
	ProcessDefinitionID string `json:"process_definition_id,omitempty"`

	// DueDate nil means executable immediately.
	DueDate *time.Time `json:"due_date,omitempty"`

	LockOwner      string     `json:"lock_owner,omitempty"`
	LockExpiration *time.Time `json:"lock_expiration,omitempty"`

	Retries          int    `json:"retries" validate:"gte=0"`
	ExceptionMessage string `json:"exception_message,omitempty"`
	// Attempts counts failed executions since the job was created or restored.
	Attempts int `json:"attempts,omitempty" validate:"gte=0"`

	TenantID string `json:"tenant_id,omitempty"`

	// Repeat holds the rest of a timer cycle after this occurrence; an R0 cycle marks the last one.
	Repeat string `json:"repeat,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewJob creates a job with a fresh id and the default retry budget.
func NewJob(jobType JobType, handlerType, executionID, processInstanceID string, createdAt time.Time) *Job {
	return &Job{
		ID:                uuid.NewString(),
		Type:              jobType,
		HandlerType:       handlerType,
		ExecutionID:       executionID,
		ProcessInstanceID: processInstanceID,
		Retries:           DefaultJobRetries,
		CreatedAt:         createdAt,
	}
}

// IsDue reports whether the job may run at now.
func (j *Job) IsDue(now time.Time) bool {
	return j.DueDate == nil || !j.DueDate.After(now)
}

// IsLocked reports whether another owner holds an unexpired lock at now.
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && j.LockExpiration != nil && j.LockExpiration.After(now)
}

// IsAcquirable reports whether an acquisition cycle at now may claim the job.
func (j *Job) IsAcquirable(now time.Time) bool {
	return j.Type != JobTypeSuspended && j.Retries > 0 && j.IsDue(now) && !j.IsLocked(now)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	clone := *j

	if j.DueDate != nil {
		due := *j.DueDate
		clone.DueDate = &due
	}

	if j.LockExpiration != nil {
		expiration := *j.LockExpiration
		clone.LockExpiration = &expiration
	}

	return &clone
}
