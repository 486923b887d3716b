// Package mocks provides testify mocks of the engine collaborators.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
)

// MockJobStore is a mock implementation of persistence.JobStore interface.
type MockJobStore struct {
	mock.Mock
}

var _ persistence.JobStore = (*MockJobStore)(nil)

func (m *MockJobStore) InsertJob(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockJobStore) JobByID(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobStore) JobsByProcessInstance(ctx context.Context, processInstanceID string) ([]*models.Job, error) {
	args := m.Called(ctx, processInstanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Job), args.Error(1)
}

func (m *MockJobStore) FindDueJobs(ctx context.Context, query persistence.DueJobsQuery) ([]*models.Job, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Job), args.Error(1)
}

func (m *MockJobStore) LockJob(ctx context.Context, jobID, owner string, now, expiration time.Time) (bool, error) {
	args := m.Called(ctx, jobID, owner, now, expiration)

	return args.Bool(0), args.Error(1)
}

func (m *MockJobStore) ResetExpiredLocks(ctx context.Context, tenantID string, now time.Time) (int, error) {
	args := m.Called(ctx, tenantID, now)

	return args.Int(0), args.Error(1)
}

func (m *MockJobStore) DeleteJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockJobStore) DeleteJobsByExecution(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}

func (m *MockJobStore) UpdateJobRetry(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockJobStore) MoveToDeadLetter(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockJobStore) DeadLetterJobs(ctx context.Context, tenantID string) ([]*models.Job, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Job), args.Error(1)
}

func (m *MockJobStore) RestoreDeadLetterJob(ctx context.Context, id string, retries int) (*models.Job, error) {
	args := m.Called(ctx, id, retries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobStore) SuspendJobs(ctx context.Context, processInstanceID string) (int, error) {
	args := m.Called(ctx, processInstanceID)

	return args.Int(0), args.Error(1)
}

func (m *MockJobStore) ActivateJobs(ctx context.Context, processInstanceID string) (int, error) {
	args := m.Called(ctx, processInstanceID)

	return args.Int(0), args.Error(1)
}

func (m *MockJobStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockJobStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
