package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/bpmnvm/pkg/bpmn/propagation"
	"github.com/dukex/bpmnvm/pkg/events"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/pvm"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

var (
	ErrUnknownJobHandler = errors.New("unknown job handler")
	ErrTenantMismatch    = errors.New("job belongs to another tenant")

	errJobOrphaned = errors.New("job target no longer exists")
)

// ExecuteJob runs the body of job as one command on the tree of its process instance.
// Jobs whose execution is gone complete without effect.
func (e *Engine) ExecuteJob(ctx context.Context, job *models.Job) error {
	if slot := tenant.SlotFromContext(ctx); slot != nil {
		if current := slot.Get(); current != "" && current != job.TenantID {
			return fmt.Errorf("%w: job %s of tenant %q run for tenant %q", ErrTenantMismatch, job.ID, job.TenantID, current)
		}
	}

	logger := e.logger.With(
		"job_id", job.ID,
		"handler_type", job.HandlerType,
		"tenant_id", job.TenantID,
		"execution_id", job.ExecutionID)

	it, err := e.acquire(job.ProcessInstanceID)
	if errors.Is(err, ErrProcessInstanceNotFound) {
		logger.WarnContext(ctx, "Skipping job of unknown process instance",
			"process_instance_id", job.ProcessInstanceID)

		return nil
	}

	if err != nil {
		return err
	}
	defer it.mu.Unlock()

	if it.suspended {
		return fmt.Errorf("%w: %s", ErrProcessInstanceSuspended, it.rootID)
	}

	err = e.execute(ctx, it, "job", func(cc *pvm.CommandContext) error {
		return e.runJob(cc, job)
	})
	if errors.Is(err, errJobOrphaned) {
		logger.WarnContext(ctx, "Skipping orphaned job", "error", err)

		return nil
	}

	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "Job executed")

	return nil
}

func (e *Engine) runJob(cc *pvm.CommandContext, job *models.Job) error {
	tree := cc.Tree()

	if job.HandlerType == models.HandlerCompensationEvent {
		subscription := tree.Subscription(job.HandlerConfiguration)
		if subscription == nil {
			return fmt.Errorf("%w: compensation subscription %s", errJobOrphaned, job.HandlerConfiguration)
		}

		return propagation.HandleCompensationEvent(cc, subscription)
	}

	execution := tree.Resolve(job.ExecutionID)
	if execution == nil {
		return fmt.Errorf("%w: execution %s", errJobOrphaned, job.ExecutionID)
	}

	switch job.HandlerType {
	case models.HandlerAsyncContinuation:
		return execution.Continue(cc, pvm.Operation(job.HandlerConfiguration))
	case models.HandlerTimerCatch:
		return execution.Signal(cc, string(models.JobTypeTimer), nil)
	case models.HandlerTimerBoundary:
		boundary := execution.ProcessDefinition().FindActivity(job.HandlerConfiguration)
		if boundary == nil {
			return &pvm.DefinitionError{Op: "ExecuteJob", ActivityID: job.HandlerConfiguration, Err: pvm.ErrActivityNotFound}
		}

		err := e.repeatTimer(cc, execution, job, boundary)
		if err != nil {
			return err
		}

		return propagation.TriggerBoundaryEvent(cc, execution, boundary)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobHandler, job.HandlerType)
	}
}

// repeatTimer schedules the next occurrence of a cycle on a non-interrupting boundary timer.
// Interrupting timers fire once because they remove the scope they are attached to.
func (e *Engine) repeatTimer(cc *pvm.CommandContext, execution *pvm.Execution, job *models.Job, boundary *pvm.Activity) error {
	if job.Repeat == "" || propagation.IsInterrupting(boundary) {
		return nil
	}

	next, following, err := models.NextCycle(job.Repeat, cc.Now())
	if errors.Is(err, models.ErrCycleExhausted) {
		return nil
	}

	if err != nil {
		return &pvm.DefinitionError{Op: "ExecuteJob", ActivityID: boundary.ID, Err: err}
	}

	repeated := cc.NewJob(execution, models.JobTypeTimer, job.HandlerType, job.HandlerConfiguration, &next)
	repeated.Repeat = following

	return nil
}

// DeadLetterJobs lists the jobs of tenantID that ran out of retries.
func (e *Engine) DeadLetterJobs(ctx context.Context, tenantID string) ([]*models.Job, error) {
	jobs, err := e.store.DeadLetterJobs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter jobs: %w", err)
	}

	return jobs, nil
}

// RestoreDeadLetterJob makes a dead-letter job executable again with retries attempts.
func (e *Engine) RestoreDeadLetterJob(ctx context.Context, id string, retries int) (*models.Job, error) {
	if retries <= 0 {
		retries = models.DefaultJobRetries
	}

	job, err := e.store.RestoreDeadLetterJob(ctx, id, retries)
	if err != nil {
		return nil, fmt.Errorf("failed to restore dead-letter job %s: %w", id, err)
	}

	e.logger.InfoContext(ctx, "Dead-letter job restored",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"retries", job.Retries)

	base := e.baseEvent(events.JobRestoredEvent, job.TenantID, job.ProcessInstanceID, job.ProcessDefinitionID)
	e.publish(ctx, job.ProcessInstanceID, events.JobRestored{
		BaseEvent: base,
		JobID:     job.ID,
		Retries:   job.Retries,
	})

	e.hint(job.TenantID)

	return job, nil
}
