package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/mocks"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/persistence/memory"
	"github.com/dukex/bpmnvm/pkg/tenant"
	"github.com/dukex/bpmnvm/pkg/testutil"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// recordingHandler records the jobs it runs together with the tenant of the worker slot.
type recordingHandler struct {
	mu      sync.Mutex
	jobs    []string
	tenants map[string]string
	err     error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{tenants: make(map[string]string)}
}

func (h *recordingHandler) ExecuteJob(ctx context.Context, job *models.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.jobs = append(h.jobs, job.ID)

	if slot := tenant.SlotFromContext(ctx); slot != nil {
		h.tenants[job.ID] = slot.Get()
	}

	return h.err
}

func (h *recordingHandler) executed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.jobs...)
}

func (h *recordingHandler) tenantOf(jobID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tenants[jobID]
}

func constantBackoff(d time.Duration) func(error, uint) time.Duration {
	return func(error, uint) time.Duration { return d }
}

type fixture struct {
	store   *memory.Store
	clock   *clockwork.FakeClock
	pool    *WorkerPool
	handler *recordingHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return &fixture{
		store:   memory.NewStore(),
		clock:   clockwork.NewFakeClockAt(testNow),
		pool:    NewWorkerPool(log.Discard(), 2, 16),
		handler: newRecordingHandler(),
	}
}

func (f *fixture) executor(t *testing.T, config Config, options ...Option) *DefaultAsyncExecutor {
	t.Helper()

	options = append([]Option{
		WithClock(f.clock),
		WithWorkerPool(f.pool),
		WithRetryBackoff(constantBackoff(time.Minute)),
	}, options...)

	e, err := NewDefaultAsyncExecutor(log.Discard(), f.store, f.handler, config, options...)
	require.NoError(t, err)

	return e
}

func (f *fixture) insert(t *testing.T, jobs ...*models.Job) {
	t.Helper()

	for _, job := range jobs {
		require.NoError(t, f.store.InsertJob(context.Background(), job))
	}
}

// drain runs every queued task and waits for the workers.
func (f *fixture) drain(t *testing.T) {
	t.Helper()

	f.pool.Start(context.Background())
	require.NoError(t, f.pool.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing lock owner", mutate: func(c *Config) { c.LockOwner = "" }, wantErr: true},
		{name: "zero lock time", mutate: func(c *Config) { c.LockTime = 0 }, wantErr: true},
		{name: "zero page size", mutate: func(c *Config) { c.PageSize = 0 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
		{name: "unbuffered queue", mutate: func(c *Config) { c.QueueSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("node-1")
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ForTenant(t *testing.T) {
	config := DefaultConfig("node-1")
	scoped := config.ForTenant("acme")

	assert.Equal(t, "acme", scoped.TenantID)
	assert.Empty(t, config.TenantID)
	assert.Equal(t, config.LockOwner, scoped.LockOwner)
}

func TestNewDefaultAsyncExecutor_RejectsInvalidConfig(t *testing.T) {
	_, err := NewDefaultAsyncExecutor(log.Discard(), memory.NewStore(), newRecordingHandler(), Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAcquireJobs_ExecutesAndDeletesJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.executor(t, DefaultConfig("node-1"))

	job := testutil.CreateTestJob()
	f.insert(t, job)

	acquired, err := e.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)

	f.drain(t)

	assert.Equal(t, []string{job.ID}, f.handler.executed())

	_, err = f.store.JobByID(ctx, job.ID)
	assert.True(t, persistence.IsJobNotFound(err))
}

func TestAcquireJobs_SkipsJobsNotYetDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.executor(t, DefaultConfig("node-1"))

	later := testutil.CreateTestJob(testutil.WithDueDate(testNow.Add(time.Hour)))
	f.insert(t, later)

	acquired, err := e.AcquireJobs(ctx, []models.JobType{models.JobTypeTimer})
	require.NoError(t, err)
	assert.Zero(t, acquired)

	f.clock.Advance(time.Hour)

	acquired, err = e.AcquireJobs(ctx, []models.JobType{models.JobTypeTimer})
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)
}

func TestAcquireJobs_FiltersByType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.executor(t, DefaultConfig("node-1"))

	f.insert(t, testutil.CreateTestJob(testutil.WithDueDate(testNow.Add(-time.Minute))))

	acquired, err := e.AcquireJobs(ctx, []models.JobType{models.JobTypeAsyncContinuation})
	require.NoError(t, err)
	assert.Zero(t, acquired)
}

func TestAcquireJobs_LockIsExclusiveAcrossOwners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.executor(t, DefaultConfig("node-1"))
	second := f.executor(t, DefaultConfig("node-2"))

	job := testutil.CreateTestJob()
	f.insert(t, job)

	acquired, err := first.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)

	acquired, err = second.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, acquired)

	stored, err := f.store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "node-1", stored.LockOwner)
}

func TestResetExpiredLocks_ReleasesJobForAnotherOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	config := DefaultConfig("node-1")
	config.LockTime = time.Minute
	crashed := f.executor(t, config)
	survivor := f.executor(t, DefaultConfig("node-2"))

	f.insert(t, testutil.CreateTestJob())

	acquired, err := crashed.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, acquired)

	count, err := survivor.ResetExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	f.clock.Advance(2 * time.Minute)

	count, err = survivor.ResetExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	acquired, err = survivor.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)
}

func TestAcquireJobs_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	acme := f.executor(t, DefaultConfig("node-1").ForTenant("acme"))

	acmeJob := testutil.CreateTestJob(testutil.WithTenant("acme"))
	globexJob := testutil.CreateTestJob(testutil.WithTenant("globex"))
	f.insert(t, acmeJob, globexJob)

	acquired, err := acme.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)

	f.drain(t)

	assert.Equal(t, []string{acmeJob.ID}, f.handler.executed())
	assert.Equal(t, "acme", f.handler.tenantOf(acmeJob.ID))

	_, err = f.store.JobByID(ctx, globexJob.ID)
	assert.NoError(t, err)
}

func TestExecuteJob_FailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.handler.err = errors.New("service unavailable")
	e := f.executor(t, DefaultConfig("node-1"))

	job := testutil.CreateTestJob()
	f.insert(t, job)

	_, err := e.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	f.drain(t)

	stored, err := f.store.JobByID(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DefaultJobRetries-1, stored.Retries)
	assert.Equal(t, "service unavailable", stored.ExceptionMessage)
	require.NotNil(t, stored.DueDate)
	assert.True(t, stored.DueDate.Equal(testNow.Add(time.Minute)))
	assert.Empty(t, stored.LockOwner)
}

func TestExecuteJob_RetryBackoffGrowsWithFailures(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		failures     int
		wantAttempts []uint
		wantRetries  int
	}{
		{name: "default retries", retries: models.DefaultJobRetries, failures: 2, wantAttempts: []uint{0, 1}, wantRetries: 1},
		{name: "larger retry budget", retries: 6, failures: 3, wantAttempts: []uint{0, 1, 2}, wantRetries: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.handler.err = errors.New("still failing")

			var attempts []uint

			e := f.executor(t, DefaultConfig("node-1"), WithRetryBackoff(func(_ error, n uint) time.Duration {
				attempts = append(attempts, n)

				return time.Duration(n+1) * time.Minute
			}))

			job := testutil.CreateTestJob(testutil.WithRetries(tt.retries))
			f.insert(t, job)

			for range tt.failures {
				stored, err := f.store.JobByID(ctx, job.ID)
				require.NoError(t, err)

				e.ExecuteJob(ctx, stored)
			}

			stored, err := f.store.JobByID(ctx, job.ID)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantRetries, stored.Retries)
			assert.Equal(t, tt.failures, stored.Attempts)
			assert.True(t, stored.DueDate.Equal(testNow.Add(time.Duration(tt.failures)*time.Minute)))
		})
	}
}

func TestExecuteJob_ExhaustedRetriesDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.handler.err = errors.New("permanent failure")
	e := f.executor(t, DefaultConfig("node-1"))

	job := testutil.CreateTestJob(testutil.WithTenant("acme"), testutil.WithRetries(1))
	f.insert(t, job)

	e.ExecuteJob(ctx, job)

	_, err := f.store.JobByID(ctx, job.ID)
	assert.True(t, persistence.IsJobNotFound(err))

	deadLetters, err := f.store.DeadLetterJobs(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, deadLetters, 1)
	assert.Equal(t, job.ID, deadLetters[0].ID)
	assert.Zero(t, deadLetters[0].Retries)
	assert.Equal(t, "permanent failure", deadLetters[0].ExceptionMessage)
}

func TestExecuteJob_PanicCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := NewDefaultAsyncExecutor(log.Discard(), f.store, JobHandlerFunc(func(context.Context, *models.Job) error {
		panic("handler bug")
	}), DefaultConfig("node-1"), WithClock(f.clock), WithRetryBackoff(constantBackoff(time.Second)))
	require.NoError(t, err)

	job := testutil.CreateTestJob()
	f.insert(t, job)

	e.ExecuteJob(ctx, job)

	stored, err := f.store.JobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultJobRetries-1, stored.Retries)
	assert.Contains(t, stored.ExceptionMessage, "handler bug")
}

func TestExecuteJob_ToleratesJobDeletedByHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := NewDefaultAsyncExecutor(log.Discard(), f.store, JobHandlerFunc(func(ctx context.Context, job *models.Job) error {
		return f.store.DeleteJob(ctx, job.ID)
	}), DefaultConfig("node-1"), WithClock(f.clock))
	require.NoError(t, err)

	job := testutil.CreateTestJob()
	f.insert(t, job)

	e.ExecuteJob(ctx, job)

	_, err = f.store.JobByID(ctx, job.ID)
	assert.True(t, persistence.IsJobNotFound(err))
}

func TestAcquireJobs_WaitsWhileQueueIsFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pool = NewWorkerPool(log.Discard(), 1, 1)
	e := f.executor(t, DefaultConfig("node-1"))

	f.insert(t, testutil.CreateTestJob(), testutil.CreateTestJob())

	type result struct {
		acquired int
		err      error
	}

	done := make(chan result, 1)

	go func() {
		acquired, err := e.AcquireJobs(ctx, nil)
		done <- result{acquired, err}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 1))

	f.pool.Start(ctx)

	require.Eventually(t, func() bool {
		return len(f.handler.executed()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	f.clock.Advance(DefaultConfig("node-1").QueueFullWait)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 2, res.acquired)

	require.NoError(t, f.pool.Shutdown(ctx))
	assert.Len(t, f.handler.executed(), 2)
}

func TestDefaultAsyncExecutor_StartAndShutdown(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	handler := newRecordingHandler()

	config := DefaultConfig("node-1")
	config.AcquireInterval = 10 * time.Millisecond

	e, err := NewDefaultAsyncExecutor(log.Discard(), store, handler, config)
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))
	assert.True(t, e.IsActive())
	require.NoError(t, e.Start(ctx))

	job := testutil.CreateTestJob()
	require.NoError(t, store.InsertJob(ctx, job))
	e.HintJobs("")

	assert.Eventually(t, func() bool {
		_, err := store.JobByID(ctx, job.ID)

		return persistence.IsJobNotFound(err)
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, e.Shutdown(shutdownCtx))
	assert.False(t, e.IsActive())
	assert.Equal(t, []string{job.ID}, handler.executed())

	require.NoError(t, e.Shutdown(shutdownCtx))
}

func TestDefaultAsyncExecutor_HintWakesAcquisition(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	handler := newRecordingHandler()

	config := DefaultConfig("node-1").ForTenant("acme")
	config.AcquireInterval = time.Hour

	e, err := NewDefaultAsyncExecutor(log.Discard(), store, handler, config)
	require.NoError(t, err)

	require.NoError(t, e.Start(ctx))

	t.Cleanup(func() {
		_ = e.Shutdown(context.Background())
	})

	// let the first cycles find nothing and park on the hour-long interval
	time.Sleep(50 * time.Millisecond)

	job := testutil.CreateTestJob(testutil.WithTenant("acme"))
	require.NoError(t, store.InsertJob(ctx, job))

	e.HintJobs("globex")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, handler.executed())

	e.HintJobs("acme")

	assert.Eventually(t, func() bool {
		return len(handler.executed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAcquireJobs_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &mocks.MockJobStore{}
	clock := clockwork.NewFakeClockAt(testNow)

	store.On("FindDueJobs", mock.Anything, mock.MatchedBy(func(query persistence.DueJobsQuery) bool {
		return query.TenantID == "acme" && query.Now.Equal(testNow) && query.Limit == 10
	})).Return(nil, errors.New("connection refused"))

	e, err := NewDefaultAsyncExecutor(log.Discard(), store, newRecordingHandler(),
		DefaultConfig("node-1").ForTenant("acme"), WithClock(clock))
	require.NoError(t, err)

	_, err = e.AcquireJobs(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	store.AssertExpectations(t)
}

func TestAcquireJobs_LockErrorSkipsJob(t *testing.T) {
	ctx := context.Background()
	store := &mocks.MockJobStore{}
	clock := clockwork.NewFakeClockAt(testNow)

	broken := testutil.CreateTestJob(testutil.WithTenant("acme"))
	healthy := testutil.CreateTestJob(testutil.WithTenant("acme"))

	store.On("FindDueJobs", mock.Anything, mock.Anything).Return([]*models.Job{broken, healthy}, nil)
	store.On("LockJob", mock.Anything, broken.ID, "node-1", testNow, mock.Anything).Return(false, errors.New("deadlock"))
	store.On("LockJob", mock.Anything, healthy.ID, "node-1", testNow, mock.Anything).Return(true, nil)

	pool := NewWorkerPool(log.Discard(), 1, 4)

	e, err := NewDefaultAsyncExecutor(log.Discard(), store, newRecordingHandler(),
		DefaultConfig("node-1").ForTenant("acme"), WithClock(clock), WithWorkerPool(pool))
	require.NoError(t, err)

	acquired, err := e.AcquireJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired)

	store.AssertExpectations(t)
}
