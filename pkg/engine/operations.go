package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/bpmnvm/pkg/bpmn/propagation"
	"github.com/dukex/bpmnvm/pkg/events"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

var ErrNotUserTask = errors.New("execution is not waiting in a user task")

// Message is delivered to the oldest message subscription of its tenant listening for Name.
// ProcessInstanceID, when set, restricts correlation to that instance.
type Message struct {
	TenantID          string
	Name              string
	ProcessInstanceID string
	Payload           map[string]any
}

// StartProcessInstanceByKey starts the latest version of the definition with key deployed for
// tenantID. The returned snapshot reflects the instance once it reached its first wait states.
func (e *Engine) StartProcessInstanceByKey(ctx context.Context, tenantID, key, businessKey string, variables map[string]any) (*ProcessInstance, error) {
	processDefinition, err := e.definitions.LatestByKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	return e.StartProcessInstance(ctx, tenantID, processDefinition, businessKey, variables)
}

func (e *Engine) StartProcessInstance(ctx context.Context, tenantID string, processDefinition *pvm.ProcessDefinition, businessKey string, variables map[string]any) (*ProcessInstance, error) {
	it := &instanceTree{
		tenantID: tenantID,
		tree:     pvm.NewTree(),
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	err := e.execute(ctx, it, "start", func(cc *pvm.CommandContext) error {
		instance := cc.Tree().NewProcessInstance(processDefinition, businessKey, tenantID)
		instance.SetVariables(variables)
		it.rootID = instance.ID()

		return instance.Start(cc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start process instance of %s: %w", processDefinition.ID, err)
	}

	e.logger.InfoContext(ctx, "Process instance started",
		"tenant_id", tenantID,
		"process_instance_id", it.rootID,
		"definition_id", processDefinition.ID)

	return e.snapshotLocked(it, it.rootID)
}

// Signal resumes the waiting execution with executionID.
func (e *Engine) Signal(ctx context.Context, executionID, name string, data any) error {
	it, err := e.acquire(executionID)
	if err != nil {
		return err
	}
	defer it.mu.Unlock()

	if it.suspended {
		return fmt.Errorf("%w: %s", ErrProcessInstanceSuspended, it.rootID)
	}

	return e.execute(ctx, it, "signal", func(cc *pvm.CommandContext) error {
		execution := cc.Tree().Resolve(executionID)
		if execution == nil {
			return fmt.Errorf("%w: %s", pvm.ErrExecutionNotFound, executionID)
		}

		return execution.Signal(cc, name, data)
	})
}

// CompleteTask completes the user task executionID waits in. Variables are stored on the task
// execution before it leaves, so they are visible in its scope.
func (e *Engine) CompleteTask(ctx context.Context, executionID string, variables map[string]any) error {
	it, err := e.acquire(executionID)
	if err != nil {
		return err
	}
	defer it.mu.Unlock()

	if it.suspended {
		return fmt.Errorf("%w: %s", ErrProcessInstanceSuspended, it.rootID)
	}

	return e.execute(ctx, it, "complete-task", func(cc *pvm.CommandContext) error {
		execution := cc.Tree().Resolve(executionID)
		if execution == nil {
			return fmt.Errorf("%w: %s", pvm.ErrExecutionNotFound, executionID)
		}

		if !pvm.IsKind(execution.Activity(), pvm.KindUserTask) {
			return fmt.Errorf("%w: %s is at %s", ErrNotUserTask, executionID, execution.ActivityID())
		}

		return execution.Signal(cc, pvm.TaskEventComplete, variables)
	})
}

type correlation struct {
	it           *instanceTree
	subscription *pvm.EventSubscription
}

// MessageEventReceived delivers message to the oldest matching subscription.
func (e *Engine) MessageEventReceived(ctx context.Context, message Message) error {
	for {
		candidate := e.correlateMessage(message)
		if candidate == nil {
			return fmt.Errorf("%w: %q for tenant %s", ErrMessageNotCorrelated, message.Name, message.TenantID)
		}

		delivered, err := e.deliverMessage(ctx, candidate, message)
		if err != nil {
			return err
		}

		if delivered {
			return nil
		}
	}
}

func (e *Engine) correlateMessage(message Message) *correlation {
	var oldest *correlation

	for _, it := range e.tenantTrees(message.TenantID) {
		it.mu.Lock()

		if it.removed || it.suspended {
			it.mu.Unlock()

			continue
		}

		for _, subscription := range it.tree.FindSubscriptions(pvm.SubscriptionMessage, message.Name) {
			if message.ProcessInstanceID != "" &&
				subscription.ProcessInstanceID != message.ProcessInstanceID && it.rootID != message.ProcessInstanceID {
				continue
			}

			if oldest == nil || subscription.Created.Before(oldest.subscription.Created) {
				oldest = &correlation{it: it, subscription: subscription}
			}

			break
		}

		it.mu.Unlock()
	}

	return oldest
}

// deliverMessage reports false when the subscription vanished between correlation and delivery.
func (e *Engine) deliverMessage(ctx context.Context, candidate *correlation, message Message) (bool, error) {
	it := candidate.it

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.removed || it.suspended || it.tree.Subscription(candidate.subscription.ID) == nil {
		return false, nil
	}

	err := e.execute(ctx, it, "message", func(cc *pvm.CommandContext) error {
		subscription := cc.Tree().Subscription(candidate.subscription.ID)

		return propagation.EventReceived(cc, subscription, message.Payload)
	})
	if err != nil {
		return false, fmt.Errorf("failed to deliver message %q: %w", message.Name, err)
	}

	e.logger.InfoContext(ctx, "Message delivered",
		"tenant_id", message.TenantID,
		"message", message.Name,
		"process_instance_id", candidate.subscription.ProcessInstanceID,
		"activity_id", candidate.subscription.ActivityID)

	return true, nil
}

// SignalEventReceived broadcasts a signal to every subscription of tenantID listening for name
// and returns how many received it. Each process instance tree handles the signal in its own
// command; a failing tree does not prevent delivery to the others.
func (e *Engine) SignalEventReceived(ctx context.Context, tenantID, name string, payload map[string]any) (int, error) {
	var (
		delivered int
		errs      []error
	)

	for _, it := range e.tenantTrees(tenantID) {
		count, err := e.deliverSignal(ctx, it, name, payload)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		delivered += count
	}

	if delivered > 0 {
		e.logger.InfoContext(ctx, "Signal delivered",
			"tenant_id", tenantID,
			"signal", name,
			"subscriptions", delivered)
	}

	return delivered, errors.Join(errs...)
}

func (e *Engine) deliverSignal(ctx context.Context, it *instanceTree, name string, payload map[string]any) (int, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.removed || it.suspended {
		return 0, nil
	}

	subscriptions := it.tree.FindSubscriptions(pvm.SubscriptionSignal, name)
	if len(subscriptions) == 0 {
		return 0, nil
	}

	delivered := 0

	err := e.execute(ctx, it, "signal-event", func(cc *pvm.CommandContext) error {
		for _, subscription := range subscriptions {
			// An earlier delivery of this broadcast may have cancelled the subscriber.
			current := cc.Tree().Subscription(subscription.ID)
			if current == nil {
				continue
			}

			err := propagation.EventReceived(cc, current, payload)
			if err != nil {
				return err
			}

			delivered++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to deliver signal %q to process instance %s: %w", name, it.rootID, err)
	}

	return delivered, nil
}

// SuspendProcessInstance stops every command on the process instance tree of id and suspends
// its jobs so no executor acquires them.
func (e *Engine) SuspendProcessInstance(ctx context.Context, id string) error {
	it, err := e.acquire(id)
	if err != nil {
		return err
	}
	defer it.mu.Unlock()

	if it.suspended {
		return nil
	}

	suspended := 0

	for _, instance := range it.tree.ProcessInstances() {
		count, err := e.store.SuspendJobs(ctx, instance.ID())
		if err != nil {
			return fmt.Errorf("failed to suspend jobs of process instance %s: %w", instance.ID(), err)
		}

		suspended += count
	}

	it.suspended = true

	e.logger.InfoContext(ctx, "Process instance suspended",
		"tenant_id", it.tenantID,
		"process_instance_id", it.rootID,
		"suspended_jobs", suspended)

	e.publish(ctx, it.rootID, events.ProcessSuspended{
		BaseEvent:     e.baseEvent(events.ProcessSuspendedEvent, it.tenantID, it.rootID, ""),
		SuspendedJobs: suspended,
	})

	return nil
}

// ActivateProcessInstance reverses SuspendProcessInstance.
func (e *Engine) ActivateProcessInstance(ctx context.Context, id string) error {
	it, err := e.acquire(id)
	if err != nil {
		return err
	}
	defer it.mu.Unlock()

	if !it.suspended {
		return nil
	}

	activated := 0

	for _, instance := range it.tree.ProcessInstances() {
		count, err := e.store.ActivateJobs(ctx, instance.ID())
		if err != nil {
			return fmt.Errorf("failed to activate jobs of process instance %s: %w", instance.ID(), err)
		}

		activated += count
	}

	it.suspended = false

	e.logger.InfoContext(ctx, "Process instance activated",
		"tenant_id", it.tenantID,
		"process_instance_id", it.rootID,
		"activated_jobs", activated)

	e.publish(ctx, it.rootID, events.ProcessActivated{
		BaseEvent:     e.baseEvent(events.ProcessActivatedEvent, it.tenantID, it.rootID, ""),
		ActivatedJobs: activated,
	})

	if activated > 0 {
		e.hint(it.tenantID)
	}

	return nil
}
