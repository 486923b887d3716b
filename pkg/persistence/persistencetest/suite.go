// Package persistencetest holds the behavior every persistence.JobStore implementation must show.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/testutil"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// RunJobStoreTests runs the job store behaviour against stores returned by newStore. Each subtest
// gets its own empty store.
func RunJobStoreTests(t *testing.T, newStore func(t *testing.T) persistence.JobStore) {
	t.Helper()

	tests := []struct {
		name string
		run  func(t *testing.T, ctx context.Context, store persistence.JobStore)
	}{
		{"insert and get", testInsertAndGet},
		{"find due jobs", testFindDueJobs},
		{"lock is exclusive", testLockIsExclusive},
		{"concurrent lock has one winner", testConcurrentLock},
		{"reset expired locks", testResetExpiredLocks},
		{"update retry releases lock", testUpdateRetry},
		{"dead letters", testDeadLetters},
		{"suspend and activate", testSuspendAndActivate},
		{"delete", testDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, t.Context(), newStore(t))
		})
	}
}

func testInsertAndGet(t *testing.T, ctx context.Context, store persistence.JobStore) {
	job := testutil.CreateTestJob(testutil.WithTenant("tenant-a"))
	job.ProcessDefinitionID = "tenant-a:order:1"

	require.NoError(t, store.InsertJob(ctx, job))

	stored, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, job.Type, stored.Type)
	assert.Equal(t, job.HandlerType, stored.HandlerType)
	assert.Equal(t, job.HandlerConfiguration, stored.HandlerConfiguration)
	assert.Equal(t, job.ExecutionID, stored.ExecutionID)
	assert.Equal(t, job.ProcessInstanceID, stored.ProcessInstanceID)
	assert.Equal(t, "tenant-a:order:1", stored.ProcessDefinitionID)
	assert.Equal(t, "tenant-a", stored.TenantID)
	assert.Equal(t, models.DefaultJobRetries, stored.Retries)
	assert.Nil(t, stored.DueDate)

	err = store.InsertJob(ctx, job)
	require.ErrorIs(t, err, persistence.ErrJobAlreadyExists)

	_, err = store.JobByID(ctx, "missing")
	assert.True(t, persistence.IsJobNotFound(err))

	jobs, err := store.JobsByProcessInstance(ctx, job.ProcessInstanceID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func testFindDueJobs(t *testing.T, ctx context.Context, store persistence.JobStore) {
	async := testutil.CreateTestJob(testutil.WithTenant("tenant-a"))
	early := testutil.CreateTestJob(testutil.WithTenant("tenant-a"), testutil.WithDueDate(now.Add(-2*time.Hour)))
	late := testutil.CreateTestJob(testutil.WithTenant("tenant-a"), testutil.WithDueDate(now.Add(-time.Hour)))
	future := testutil.CreateTestJob(testutil.WithTenant("tenant-a"), testutil.WithDueDate(now.Add(time.Hour)))
	otherTenant := testutil.CreateTestJob(testutil.WithTenant("tenant-b"))
	exhausted := testutil.CreateTestJob(testutil.WithTenant("tenant-a"), testutil.WithRetries(0))

	for _, job := range []*models.Job{late, future, async, otherTenant, early, exhausted} {
		require.NoError(t, store.InsertJob(ctx, job))
	}

	jobs, err := store.FindDueJobs(ctx, persistence.DueJobsQuery{TenantID: "tenant-a", Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{async.ID, early.ID, late.ID}, ids(jobs))

	jobs, err = store.FindDueJobs(ctx, persistence.DueJobsQuery{TenantID: "tenant-a", Now: now, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = store.FindDueJobs(ctx, persistence.DueJobsQuery{
		TenantID: "tenant-a",
		Now:      now,
		Limit:    10,
		Types:    []models.JobType{models.JobTypeTimer},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{early.ID, late.ID}, ids(jobs))

	jobs, err = store.FindDueJobs(ctx, persistence.DueJobsQuery{TenantID: "tenant-b", Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{otherTenant.ID}, ids(jobs))
}

func testLockIsExclusive(t *testing.T, ctx context.Context, store persistence.JobStore) {
	job := testutil.CreateTestJob()
	require.NoError(t, store.InsertJob(ctx, job))

	locked, err := store.LockJob(ctx, job.ID, "owner-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = store.LockJob(ctx, job.ID, "owner-b", now.Add(30*time.Second), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, locked, "an unexpired lock must not be stolen")

	jobs, err := store.FindDueJobs(ctx, persistence.DueJobsQuery{Now: now.Add(30 * time.Second), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	locked, err = store.LockJob(ctx, job.ID, "owner-b", now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, locked, "an expired lock can be taken over")

	stored, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-b", stored.LockOwner)

	locked, err = store.LockJob(ctx, "missing", "owner-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, locked)
}

func testConcurrentLock(t *testing.T, ctx context.Context, store persistence.JobStore) {
	job := testutil.CreateTestJob()
	require.NoError(t, store.InsertJob(ctx, job))

	const contenders = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)

	for i := range contenders {
		wg.Add(1)

		go func(owner int) {
			defer wg.Done()

			locked, err := store.LockJob(ctx, job.ID, "owner-"+string(rune('a'+owner)), now, now.Add(time.Minute))
			assert.NoError(t, err)

			if locked {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, winners)
}

func testResetExpiredLocks(t *testing.T, ctx context.Context, store persistence.JobStore) {
	expired := testutil.CreateTestJob(testutil.WithTenant("tenant-a"))
	held := testutil.CreateTestJob(testutil.WithTenant("tenant-a"))
	otherTenant := testutil.CreateTestJob(testutil.WithTenant("tenant-b"))

	for _, job := range []*models.Job{expired, held, otherTenant} {
		require.NoError(t, store.InsertJob(ctx, job))
	}

	_, err := store.LockJob(ctx, expired.ID, "crashed", now, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = store.LockJob(ctx, held.ID, "alive", now, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.LockJob(ctx, otherTenant.ID, "crashed", now, now.Add(time.Minute))
	require.NoError(t, err)

	count, err := store.ResetExpiredLocks(ctx, "tenant-a", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := store.JobByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LockOwner)
	assert.Nil(t, stored.LockExpiration)

	stored, err = store.JobByID(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, "alive", stored.LockOwner)

	stored, err = store.JobByID(ctx, otherTenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "crashed", stored.LockOwner)
}

func testUpdateRetry(t *testing.T, ctx context.Context, store persistence.JobStore) {
	job := testutil.CreateTestJob()
	require.NoError(t, store.InsertJob(ctx, job))

	_, err := store.LockJob(ctx, job.ID, "owner-a", now, now.Add(time.Minute))
	require.NoError(t, err)

	retryAt := now.Add(5 * time.Second)
	job.Retries = 2
	job.Attempts = 1
	job.DueDate = &retryAt
	job.ExceptionMessage = "connection refused"

	require.NoError(t, store.UpdateJobRetry(ctx, job))

	stored, err := store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Retries)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "connection refused", stored.ExceptionMessage)
	require.NotNil(t, stored.DueDate)
	assert.True(t, retryAt.Equal(*stored.DueDate))
	assert.Empty(t, stored.LockOwner)

	jobs, err := store.FindDueJobs(ctx, persistence.DueJobsQuery{Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, jobs, "the retry is not due yet")

	jobs, err = store.FindDueJobs(ctx, persistence.DueJobsQuery{Now: retryAt, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	missing := testutil.CreateTestJob()
	assert.True(t, persistence.IsJobNotFound(store.UpdateJobRetry(ctx, missing)))
}

func testDeadLetters(t *testing.T, ctx context.Context, store persistence.JobStore) {
	job := testutil.CreateTestJob(testutil.WithTenant("tenant-a"))
	require.NoError(t, store.InsertJob(ctx, job))

	job.Retries = 0
	job.Attempts = 3
	job.ExceptionMessage = "boom"
	require.NoError(t, store.MoveToDeadLetter(ctx, job))

	_, err := store.JobByID(ctx, job.ID)
	assert.True(t, persistence.IsJobNotFound(err))

	dead, err := store.DeadLetterJobs(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, "boom", dead[0].ExceptionMessage)
	assert.Equal(t, 0, dead[0].Retries)
	assert.Equal(t, 3, dead[0].Attempts)

	dead, err = store.DeadLetterJobs(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, dead)

	restored, err := store.RestoreDeadLetterJob(ctx, job.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Retries)
	assert.Zero(t, restored.Attempts)
	assert.Empty(t, restored.ExceptionMessage)

	jobs, err := store.FindDueJobs(ctx, persistence.DueJobsQuery{TenantID: "tenant-a", Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, ids(jobs))

	_, err = store.RestoreDeadLetterJob(ctx, job.ID, 3)
	assert.True(t, persistence.IsDeadLetterNotFound(err))
}

func testSuspendAndActivate(t *testing.T, ctx context.Context, store persistence.JobStore) {
	timer := testutil.CreateTestJob(testutil.WithExecution("exec-1", "instance-1"), testutil.WithDueDate(now.Add(-time.Minute)))
	async := testutil.CreateTestJob(testutil.WithExecution("exec-2", "instance-1"))
	other := testutil.CreateTestJob(testutil.WithExecution("exec-3", "instance-2"))

	for _, job := range []*models.Job{timer, async, other} {
		require.NoError(t, store.InsertJob(ctx, job))
	}

	count, err := store.SuspendJobs(ctx, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	jobs, err := store.FindDueJobs(ctx, persistence.DueJobsQuery{Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids(jobs))

	locked, err := store.LockJob(ctx, async.ID, "owner-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, locked, "suspended jobs are never acquired")

	stored, err := store.JobByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeSuspended, stored.Type)
	assert.Equal(t, models.JobTypeTimer, stored.SuspendedType)

	count, err = store.ActivateJobs(ctx, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err = store.JobByID(ctx, timer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeTimer, stored.Type)

	jobs, err = store.FindDueJobs(ctx, persistence.DueJobsQuery{Now: now, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func testDelete(t *testing.T, ctx context.Context, store persistence.JobStore) {
	first := testutil.CreateTestJob(testutil.WithExecution("exec-1", "instance-1"))
	second := testutil.CreateTestJob(testutil.WithExecution("exec-1", "instance-1"), testutil.WithDueDate(now))
	kept := testutil.CreateTestJob(testutil.WithExecution("exec-2", "instance-1"))

	for _, job := range []*models.Job{first, second, kept} {
		require.NoError(t, store.InsertJob(ctx, job))
	}

	require.NoError(t, store.DeleteJobsByExecution(ctx, "exec-1"))

	jobs, err := store.JobsByProcessInstance(ctx, "instance-1")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, ids(jobs))

	require.NoError(t, store.DeleteJob(ctx, kept.ID))
	assert.True(t, persistence.IsJobNotFound(store.DeleteJob(ctx, kept.ID)))
}

func ids(jobs []*models.Job) []string {
	result := make([]string, 0, len(jobs))
	for _, job := range jobs {
		result = append(result, job.ID)
	}

	return result
}
