package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/bpmnvm/pkg/tenant"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of work bound to the tenant it was created for.
type Task struct {
	TenantID string
	Run      func(ctx context.Context)
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue. Every worker owns a
// tenant.Slot which is set to the tenant of the task before it runs and cleared afterwards, so the
// tenant seen by a task is the one captured when it was submitted, whichever goroutine runs it.
type WorkerPool struct {
	logger  *slog.Logger
	workers int
	tasks   chan Task

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewWorkerPool(logger *slog.Logger, workers, queueSize int) *WorkerPool {
	return &WorkerPool{
		logger:  logger.With("module", "worker_pool"),
		workers: workers,
		tasks:   make(chan Task, queueSize),
	}
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}

	p.started = true

	for i := range p.workers {
		p.wg.Add(1)

		go p.work(ctx, i)
	}
}

// Submit enqueues task without blocking. It reports false when the queue is full.
func (p *WorkerPool) Submit(task Task) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false, ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return true, nil
	default:
		return false, nil
	}
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits for them, or for ctx.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if !p.closed {
		p.closed = true
		close(p.tasks)
	}

	p.mu.Unlock()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to join workers: %w", ctx.Err())
	}
}

func (p *WorkerPool) work(ctx context.Context, worker int) {
	defer p.wg.Done()

	slot := &tenant.Slot{}

	for task := range p.tasks {
		p.run(ctx, worker, slot, task)
	}
}

func (p *WorkerPool) run(ctx context.Context, worker int, slot *tenant.Slot, task Task) {
	slot.Set(task.TenantID)
	defer slot.Clear()

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Task panicked", "worker", worker, "tenant_id", task.TenantID, "panic", r)
		}
	}()

	task.Run(tenant.WithSlot(tenant.WithID(ctx, task.TenantID), slot))
}
