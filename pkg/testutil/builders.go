// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/bpmnvm/pkg/models"
)

// DelegateExecution is an in-memory protocol.DelegateExecution.
type DelegateExecution struct {
	ExecutionID string
	InstanceID  string
	Activity    string
	Tenant      string
	Local       map[string]any
}

func NewDelegateExecution(id, activityID string, variables map[string]any) *DelegateExecution {
	local := make(map[string]any)
	maps.Copy(local, variables)

	return &DelegateExecution{
		ExecutionID: id,
		InstanceID:  id,
		Activity:    activityID,
		Local:       local,
	}
}

func (e *DelegateExecution) ID() string                { return e.ExecutionID }
func (e *DelegateExecution) ProcessInstanceID() string { return e.InstanceID }
func (e *DelegateExecution) ActivityID() string        { return e.Activity }
func (e *DelegateExecution) TenantID() string          { return e.Tenant }

func (e *DelegateExecution) Variable(name string) (any, bool) {
	value, ok := e.Local[name]

	return value, ok
}

func (e *DelegateExecution) Variables() map[string]any {
	return maps.Clone(e.Local)
}

func (e *DelegateExecution) SetVariable(name string, value any) {
	e.Local[name] = value
}

func (e *DelegateExecution) SetVariableLocal(name string, value any) {
	e.Local[name] = value
}

// CreateTestJob creates an executable async continuation job that can be overridden.
func CreateTestJob(overrides ...func(*models.Job)) *models.Job {
	job := models.NewJob(
		models.JobTypeAsyncContinuation,
		models.HandlerAsyncContinuation,
		uuid.NewString(),
		uuid.NewString(),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	job.HandlerConfiguration = "transition-create-scope"

	for _, override := range overrides {
		override(job)
	}

	return job
}

// WithTenant assigns the job to tenantID.
func WithTenant(tenantID string) func(*models.Job) {
	return func(j *models.Job) {
		j.TenantID = tenantID
	}
}

// WithDueDate turns the job into a timer due at due.
func WithDueDate(due time.Time) func(*models.Job) {
	return func(j *models.Job) {
		j.Type = models.JobTypeTimer
		j.HandlerType = models.HandlerTimerBoundary
		j.DueDate = &due
	}
}

// WithRetries sets the remaining attempts of the job.
func WithRetries(retries int) func(*models.Job) {
	return func(j *models.Job) {
		j.Retries = retries
	}
}

// WithExecution binds the job to an execution of a process instance.
func WithExecution(executionID, processInstanceID string) func(*models.Job) {
	return func(j *models.Job) {
		j.ExecutionID = executionID
		j.ProcessInstanceID = processInstanceID
	}
}
