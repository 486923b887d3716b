// Package persistence provides the job store abstraction shared by the engine and the executors.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/bpmnvm/pkg/models"
)

// AcquirableJobTypes are the job types an acquisition cycle may claim.
var AcquirableJobTypes = []models.JobType{models.JobTypeAsyncContinuation, models.JobTypeTimer}

// DueJobsQuery selects the jobs of one tenant that can be locked at Now.
type DueJobsQuery struct {
	TenantID string
	Now      time.Time
	Limit    int
	// Types restricts the result, nil means AcquirableJobTypes.
	Types []models.JobType
}

// JobTypes returns the types the query selects.
func (q DueJobsQuery) JobTypes() []models.JobType {
	if len(q.Types) == 0 {
		return AcquirableJobTypes
	}

	return q.Types
}

// JobStore persists jobs. Jobs are only ever claimed through LockJob, which must be an atomic
// compare-and-set: two owners racing for the same job never both succeed.
type JobStore interface {
	InsertJob(ctx context.Context, job *models.Job) error
	JobByID(ctx context.Context, id string) (*models.Job, error)
	JobsByProcessInstance(ctx context.Context, processInstanceID string) ([]*models.Job, error)

	// FindDueJobs returns due, unlocked jobs ordered by due date, jobs without one first.
	FindDueJobs(ctx context.Context, query DueJobsQuery) ([]*models.Job, error)

	// LockJob claims the job for owner until expiration. It returns false without error when the
	// job is gone, suspended or held by an unexpired lock.
	LockJob(ctx context.Context, jobID, owner string, now, expiration time.Time) (bool, error)

	// ResetExpiredLocks releases the locks of the tenant that expired before now.
	ResetExpiredLocks(ctx context.Context, tenantID string, now time.Time) (int, error)

	DeleteJob(ctx context.Context, id string) error
	DeleteJobsByExecution(ctx context.Context, executionID string) error

	// UpdateJobRetry stores the retries, due date and exception of job and releases its lock.
	UpdateJobRetry(ctx context.Context, job *models.Job) error

	MoveToDeadLetter(ctx context.Context, job *models.Job) error
	DeadLetterJobs(ctx context.Context, tenantID string) ([]*models.Job, error)
	// RestoreDeadLetterJob moves a dead-letter job back to the executable jobs with new retries.
	RestoreDeadLetterJob(ctx context.Context, id string, retries int) (*models.Job, error)

	SuspendJobs(ctx context.Context, processInstanceID string) (int, error)
	ActivateJobs(ctx context.Context, processInstanceID string) (int, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Suspend turns job into a suspended job, remembering its type.
func Suspend(job *models.Job) bool {
	if job.Type == models.JobTypeSuspended {
		return false
	}

	job.SuspendedType = job.Type
	job.Type = models.JobTypeSuspended

	return true
}

// Activate restores the type of a suspended job.
func Activate(job *models.Job) bool {
	if job.Type != models.JobTypeSuspended {
		return false
	}

	job.Type = job.SuspendedType
	job.SuspendedType = ""

	return true
}

// Restore prepares a dead-letter job for another round of attempts.
func Restore(job *models.Job, retries int) {
	job.Retries = retries
	job.Attempts = 0
	job.ExceptionMessage = ""
	job.LockOwner = ""
	job.LockExpiration = nil
}

// Matches reports whether job satisfies the query.
func (q DueJobsQuery) Matches(job *models.Job) bool {
	if job.TenantID != q.TenantID || !job.IsAcquirable(q.Now) {
		return false
	}

	for _, jobType := range q.JobTypes() {
		if job.Type == jobType {
			return true
		}
	}

	return false
}
