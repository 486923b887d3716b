// Package multitenant runs one job executor per tenant, each with its own worker pool or all
// sharing a single one.
package multitenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/bpmnvm/pkg/executor"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

// Strategy selects how tenants share worker goroutines.
type Strategy string

const (
	// StrategyPerTenant gives every tenant an independent executor and worker pool.
	StrategyPerTenant Strategy = "per-tenant"
	// StrategyShared keeps acquisition per tenant but runs every job on one shared pool.
	StrategyShared Strategy = "shared"
)

var ErrUnknownStrategy = errors.New("unknown tenant strategy")

// Executor fans acquisition out per tenant. It satisfies executor.AsyncExecutor.
type Executor struct {
	logger   *slog.Logger
	strategy Strategy
	store    persistence.JobStore
	handler  executor.JobHandler
	config   executor.Config
	options  []executor.Option
	holder   tenant.InfoHolder

	// pool is only set for StrategyShared.
	pool *executor.WorkerPool

	newTenantExecutor func(tenantID string) (executor.AsyncExecutor, error)

	mu        sync.Mutex
	executors map[string]executor.AsyncExecutor
	active    bool
}

// New returns a multi-tenant executor for strategy serving the tenants of holder.
func New(
	logger *slog.Logger,
	strategy Strategy,
	store persistence.JobStore,
	handler executor.JobHandler,
	config executor.Config,
	holder tenant.InfoHolder,
	options ...executor.Option,
) (*Executor, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	e := &Executor{
		logger:    logger.With("module", "multitenant_executor", "strategy", string(strategy)),
		strategy:  strategy,
		store:     store,
		handler:   handler,
		config:    config,
		options:   options,
		holder:    holder,
		executors: make(map[string]executor.AsyncExecutor),
	}

	e.newTenantExecutor = e.createTenantExecutor

	switch strategy {
	case StrategyPerTenant:
	case StrategyShared:
		e.pool = executor.NewWorkerPool(logger, config.Workers, config.QueueSize)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	return e, nil
}

// NewExecutorPerTenant gives every tenant a fully independent executor.
func NewExecutorPerTenant(
	logger *slog.Logger,
	store persistence.JobStore,
	handler executor.JobHandler,
	config executor.Config,
	holder tenant.InfoHolder,
	options ...executor.Option,
) (*Executor, error) {
	return New(logger, StrategyPerTenant, store, handler, config, holder, options...)
}

// NewSharedPool runs the jobs of every tenant on a single worker pool.
func NewSharedPool(
	logger *slog.Logger,
	store persistence.JobStore,
	handler executor.JobHandler,
	config executor.Config,
	holder tenant.InfoHolder,
	options ...executor.Option,
) (*Executor, error) {
	return New(logger, StrategyShared, store, handler, config, holder, options...)
}

func (e *Executor) Strategy() Strategy {
	return e.strategy
}

func (e *Executor) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// Start creates and starts an executor for every tenant of the holder. When a tenant fails to
// start, the tenants started by this call are shut down again before the error is returned.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return nil
	}

	for _, tenantID := range e.holder.AllTenants() {
		_, err := e.executorFor(tenantID)
		if err != nil {
			return err
		}
	}

	if e.pool != nil {
		e.pool.Start(context.WithoutCancel(ctx))
	}

	var (
		mu      sync.Mutex
		started []string
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for tenantID, tenantExecutor := range e.executors {
		if tenantExecutor.IsActive() {
			continue
		}

		group.Go(func() error {
			err := tenantExecutor.Start(groupCtx)
			if err != nil {
				return fmt.Errorf("failed to start executor of tenant %s: %w", tenantID, err)
			}

			mu.Lock()
			started = append(started, tenantID)
			mu.Unlock()

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to start multi-tenant executor", "error", err, "started", len(started))

		return multierr.Append(err, e.stopTenants(context.WithoutCancel(ctx), started))
	}

	e.active = true

	e.logger.InfoContext(ctx, "Multi-tenant executor started", "tenants", len(e.executors))

	return nil
}

// stopTenants shuts the executors of tenantIDs down. Callers hold e.mu.
func (e *Executor) stopTenants(ctx context.Context, tenantIDs []string) error {
	var errs error

	for _, tenantID := range tenantIDs {
		err := e.executors[tenantID].Shutdown(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to shut down executor of tenant %s: %w", tenantID, err))
		}
	}

	return errs
}

// executorFor returns the executor of tenantID, creating it when needed. Callers hold e.mu.
func (e *Executor) executorFor(tenantID string) (executor.AsyncExecutor, error) {
	if existing, ok := e.executors[tenantID]; ok {
		return existing, nil
	}

	tenantExecutor, err := e.newTenantExecutor(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor of tenant %s: %w", tenantID, err)
	}

	e.executors[tenantID] = tenantExecutor

	return tenantExecutor, nil
}

func (e *Executor) createTenantExecutor(tenantID string) (executor.AsyncExecutor, error) {
	options := e.options
	if e.pool != nil {
		options = append(options[:len(options):len(options)], executor.WithWorkerPool(e.pool))
	}

	tenantExecutor, err := executor.NewDefaultAsyncExecutor(e.logger, e.store, e.handler, e.config.ForTenant(tenantID), options...)
	if err != nil {
		return nil, err
	}

	return tenantExecutor, nil
}

// AddTenant creates the executor of tenantID and starts it when start is set.
func (e *Executor) AddTenant(ctx context.Context, tenantID string, start bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tenantExecutor, err := e.executorFor(tenantID)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Tenant added", "tenant_id", tenantID, "start", start)

	if !start {
		return nil
	}

	if e.pool != nil {
		e.pool.Start(context.WithoutCancel(ctx))
	}

	return tenantExecutor.Start(ctx)
}

// RemoveTenant shuts the executor of tenantID down and waits for its goroutines.
func (e *Executor) RemoveTenant(ctx context.Context, tenantID string) error {
	e.mu.Lock()
	tenantExecutor, ok := e.executors[tenantID]
	delete(e.executors, tenantID)
	e.mu.Unlock()

	if !ok {
		return nil
	}

	err := tenantExecutor.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shut down executor of tenant %s: %w", tenantID, err)
	}

	e.logger.InfoContext(ctx, "Tenant removed", "tenant_id", tenantID)

	return nil
}

// Tenants returns the tenants with an executor, in lexical order.
func (e *Executor) Tenants() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	tenants := make([]string, 0, len(e.executors))
	for tenantID := range e.executors {
		tenants = append(tenants, tenantID)
	}

	sort.Strings(tenants)

	return tenants
}

// TenantExecutor returns the executor of tenantID, or nil.
func (e *Executor) TenantExecutor(tenantID string) executor.AsyncExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.executors[tenantID]
}

func (e *Executor) HintJobs(tenantID string) {
	if tenantExecutor := e.TenantExecutor(tenantID); tenantExecutor != nil {
		tenantExecutor.HintJobs(tenantID)
	}
}

// Shutdown stops every tenant executor, then the shared pool. Interruptions are logged and
// returned together; they do not prevent the other tenants from being shut down.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()

	executors := make(map[string]executor.AsyncExecutor, len(e.executors))
	for tenantID, tenantExecutor := range e.executors {
		executors[tenantID] = tenantExecutor
	}

	e.active = false
	e.mu.Unlock()

	var (
		mu   sync.Mutex
		errs error
	)

	var group errgroup.Group

	for tenantID, tenantExecutor := range executors {
		group.Go(func() error {
			err := tenantExecutor.Shutdown(ctx)
			if err != nil {
				e.logger.WarnContext(ctx, "Failed to shut down tenant executor", "tenant_id", tenantID, "error", err)

				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
				mu.Unlock()
			}

			return nil
		})
	}

	_ = group.Wait()

	if e.pool != nil {
		err := e.pool.Shutdown(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "Interrupted while joining shared workers", "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	e.logger.InfoContext(ctx, "Multi-tenant executor stopped")

	return errs
}
