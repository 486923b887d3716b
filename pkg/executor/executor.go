package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dogmatiq/linger/backoff"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/otelhelper"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

// JobHandler runs the body of a claimed job.
type JobHandler interface {
	ExecuteJob(ctx context.Context, job *models.Job) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *models.Job) error

func (f JobHandlerFunc) ExecuteJob(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// AsyncExecutor is the contract shared by single-tenant and multi-tenant executors.
type AsyncExecutor interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsActive() bool
	// HintJobs tells the acquisition loops of tenantID that new jobs may be due.
	HintJobs(tenantID string)
}

type Option func(*DefaultAsyncExecutor)

func WithClock(clock clockwork.Clock) Option {
	return func(e *DefaultAsyncExecutor) { e.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *DefaultAsyncExecutor) { e.tracer = tracer }
}

// WithWorkerPool makes the executor submit to pool instead of owning one. The pool is neither
// started nor shut down by the executor.
func WithWorkerPool(pool *WorkerPool) Option {
	return func(e *DefaultAsyncExecutor) { e.pool = pool }
}

func WithRetryBackoff(strategy backoff.Strategy) Option {
	return func(e *DefaultAsyncExecutor) { e.retryBackoff = strategy }
}

func WithAcquisitionBackoff(strategy backoff.Strategy) Option {
	return func(e *DefaultAsyncExecutor) { e.acquisitionBackoff = strategy }
}

// DefaultAsyncExecutor serves the jobs of one tenant: one acquisition loop for timers, one for
// async continuations and one expired-lock sweep, all feeding a worker pool.
type DefaultAsyncExecutor struct {
	config  Config
	logger  *slog.Logger
	store   persistence.JobStore
	handler JobHandler

	clock              clockwork.Clock
	tracer             trace.Tracer
	pool               *WorkerPool
	ownsPool           bool
	retryBackoff       backoff.Strategy
	acquisitionBackoff backoff.Strategy

	timerHint chan struct{}
	asyncHint chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	active bool
}

func NewDefaultAsyncExecutor(
	logger *slog.Logger,
	store persistence.JobStore,
	handler JobHandler,
	config Config,
	options ...Option,
) (*DefaultAsyncExecutor, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	e := &DefaultAsyncExecutor{
		config:             config,
		logger:             logger.With("module", "async_executor", "tenant_id", config.TenantID),
		store:              store,
		handler:            handler,
		clock:              clockwork.NewRealClock(),
		tracer:             noop.NewTracerProvider().Tracer("bpmnvm-executor"),
		retryBackoff:       DefaultRetryBackoff,
		acquisitionBackoff: DefaultAcquisitionBackoff,
		timerHint:          make(chan struct{}, 1),
		asyncHint:          make(chan struct{}, 1),
	}

	for _, option := range options {
		option(e)
	}

	if e.pool == nil {
		e.pool = NewWorkerPool(logger, config.Workers, config.QueueSize)
		e.ownsPool = true
	}

	return e, nil
}

func (e *DefaultAsyncExecutor) TenantID() string {
	return e.config.TenantID
}

func (e *DefaultAsyncExecutor) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// Start launches the acquisition loops. Calling Start on an active executor does nothing.
func (e *DefaultAsyncExecutor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	if e.ownsPool {
		// workers outlive the acquisition loops to drain the queue on shutdown
		e.pool.Start(context.WithoutCancel(ctx))
	}

	group.Go(func() error {
		return e.acquisitionLoop(groupCtx, "timer", []models.JobType{models.JobTypeTimer}, e.timerHint)
	})

	group.Go(func() error {
		return e.acquisitionLoop(groupCtx, "async", []models.JobType{models.JobTypeAsyncContinuation}, e.asyncHint)
	})

	group.Go(func() error {
		return e.resetLoop(groupCtx)
	})

	e.cancel = cancel
	e.group = group
	e.active = true

	e.logger.InfoContext(ctx, "Async executor started", "lock_owner", e.config.LockOwner)

	return nil
}

// Shutdown stops the acquisition loops and waits for them and for the owned worker pool. When ctx
// ends first the remaining goroutines are abandoned and a warning is logged.
func (e *DefaultAsyncExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()

	if !e.active {
		e.mu.Unlock()

		return nil
	}

	cancel, group := e.cancel, e.group
	e.active = false
	e.mu.Unlock()

	cancel()

	done := make(chan error, 1)

	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.WarnContext(ctx, "Acquisition loop ended with error", "error", err)
		}
	case <-ctx.Done():
		e.logger.WarnContext(ctx, "Interrupted while joining acquisition loops", "error", ctx.Err())

		return fmt.Errorf("failed to join acquisition loops: %w", ctx.Err())
	}

	if e.ownsPool {
		err := e.pool.Shutdown(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "Interrupted while joining workers", "error", err)

			return err
		}
	}

	e.logger.InfoContext(ctx, "Async executor stopped")

	return nil
}

func (e *DefaultAsyncExecutor) HintJobs(tenantID string) {
	if tenantID != e.config.TenantID {
		return
	}

	for _, hint := range []chan struct{}{e.timerHint, e.asyncHint} {
		select {
		case hint <- struct{}{}:
		default:
		}
	}
}

func (e *DefaultAsyncExecutor) acquisitionLoop(ctx context.Context, name string, types []models.JobType, hint <-chan struct{}) error {
	counter := backoff.Counter{Strategy: e.acquisitionBackoff}
	logger := e.logger.With("loop", name)

	for {
		acquired, err := e.AcquireJobs(ctx, types)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.ErrorContext(ctx, "Failed to acquire jobs", "error", err)

			err = counter.Sleep(ctx, err)
			if err != nil {
				return nil
			}

			continue
		}

		counter.Reset()

		if acquired >= e.config.PageSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-hint:
		case <-e.clock.After(e.config.AcquireInterval):
		}
	}
}

func (e *DefaultAsyncExecutor) resetLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.clock.After(e.config.ResetLocksInterval):
		}

		_, err := e.ResetExpiredLocks(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "Failed to reset expired locks", "error", err)
		}
	}
}

// ResetExpiredLocks runs one expired-lock sweep for the tenant of the executor.
func (e *DefaultAsyncExecutor) ResetExpiredLocks(ctx context.Context) (int, error) {
	count, err := e.store.ResetExpiredLocks(tenant.WithID(ctx, e.config.TenantID), e.config.TenantID, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reset expired locks: %w", err)
	}

	if count > 0 {
		e.logger.InfoContext(ctx, "Reset expired job locks", "count", count)
	}

	return count, nil
}

// AcquireJobs runs one acquisition cycle: it queries a page of due jobs of the given types, locks
// each and submits the locked ones. It returns the number of jobs submitted.
func (e *DefaultAsyncExecutor) AcquireJobs(ctx context.Context, types []models.JobType) (int, error) {
	ctx = tenant.WithID(ctx, e.config.TenantID)
	now := e.clock.Now()

	jobs, err := e.store.FindDueJobs(ctx, persistence.DueJobsQuery{
		TenantID: e.config.TenantID,
		Now:      now,
		Limit:    e.config.PageSize,
		Types:    types,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find due jobs: %w", err)
	}

	acquired := 0

	for _, job := range jobs {
		expiration := now.Add(e.config.LockTime)

		locked, err := e.store.LockJob(ctx, job.ID, e.config.LockOwner, now, expiration)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to lock job", "job_id", job.ID, "error", err)

			continue
		}

		if !locked {
			e.logger.DebugContext(ctx, "Job already locked", "job_id", job.ID)

			continue
		}

		job.LockOwner = e.config.LockOwner
		job.LockExpiration = &expiration

		err = e.submit(ctx, job)
		if err != nil {
			return acquired, err
		}

		acquired++
	}

	return acquired, nil
}

// submit hands job to the pool, waiting while the queue is full.
func (e *DefaultAsyncExecutor) submit(ctx context.Context, job *models.Job) error {
	task := Task{
		TenantID: job.TenantID,
		Run: func(ctx context.Context) {
			e.ExecuteJob(ctx, job)
		},
	}

	for {
		submitted, err := e.pool.Submit(task)
		if err != nil {
			return fmt.Errorf("failed to submit job %s: %w", job.ID, err)
		}

		if submitted {
			return nil
		}

		e.logger.DebugContext(ctx, "Worker queue full, waiting", "job_id", job.ID)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.config.QueueFullWait):
		}
	}
}

// ExecuteJob runs a claimed job: it is deleted on success, retried with backoff on failure and
// moved to the dead letters once its retries are exhausted.
func (e *DefaultAsyncExecutor) ExecuteJob(ctx context.Context, job *models.Job) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "job.execute",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobTypeKey, string(job.Type)),
		attribute.String(otelhelper.JobHandlerKey, job.HandlerType),
		attribute.String(otelhelper.TenantIDKey, job.TenantID),
		attribute.String(otelhelper.ProcessInstanceIDKey, job.ProcessInstanceID),
		attribute.Int(otelhelper.JobRetriesKey, job.Retries),
	)
	defer span.End()

	logger := e.logger.With(
		"job_id", job.ID,
		"handler_type", job.HandlerType,
		"process_instance_id", job.ProcessInstanceID,
	)

	err := e.runHandler(ctx, job)
	if err == nil {
		err = e.store.DeleteJob(ctx, job.ID)
		if err != nil && !persistence.IsJobNotFound(err) {
			logger.ErrorContext(ctx, "Failed to delete executed job", "error", err)
			otelhelper.SetError(span, err)
		}

		logger.DebugContext(ctx, "Job executed")

		return
	}

	otelhelper.SetError(span, err)
	e.handleFailure(ctx, logger, job, err)
}

func (e *DefaultAsyncExecutor) runHandler(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return e.handler.ExecuteJob(ctx, job)
}

func (e *DefaultAsyncExecutor) handleFailure(ctx context.Context, logger *slog.Logger, job *models.Job, cause error) {
	job.Retries--
	job.Attempts++
	job.ExceptionMessage = cause.Error()

	if job.Retries <= 0 {
		job.Retries = 0

		err := e.store.MoveToDeadLetter(ctx, job)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to dead-letter job", "error", err, "cause", cause)

			return
		}

		logger.ErrorContext(ctx, "Job failed permanently", "error", cause)

		return
	}

	due := e.clock.Now().Add(e.retryBackoff(cause, uint(job.Attempts-1)))
	job.DueDate = &due

	err := e.store.UpdateJobRetry(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reschedule job", "error", err, "cause", cause)

		return
	}

	logger.WarnContext(ctx, "Job failed, retry scheduled", "error", cause, "retries", job.Retries, "due_date", due)
}
