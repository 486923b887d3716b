package behavior

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/bpmnvm/pkg/bpmn/propagation"
	"github.com/dukex/bpmnvm/pkg/protocol"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// DelegateRegistry creates the delegates service tasks run.
type DelegateRegistry interface {
	CreateDelegate(delegateType string, config map[string]any) (protocol.Delegate, error)
}

// Resolver replaces the placeholders of a configuration value.
type Resolver interface {
	Resolve(ctx context.Context, value any, variables map[string]any) any
}

// UserTask waits until the task is completed.
type UserTask struct{}

func (UserTask) Kind() pvm.Kind { return pvm.KindUserTask }

func (UserTask) Capabilities() pvm.Capabilities {
	return pvm.CanExecute | pvm.CanSignal
}

func (UserTask) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	err := pvm.FireTaskEvent(cc, execution, pvm.TaskEventCreate)
	if err != nil {
		return err
	}

	return execution.Suspend()
}

func (UserTask) Signal(cc *pvm.CommandContext, execution *pvm.Execution, _ string, data any) error {
	applyPayload(execution, data)

	err := pvm.FireTaskEvent(cc, execution, pvm.TaskEventComplete)
	if err != nil {
		return err
	}

	return Leave(cc, execution)
}

// ServiceTask runs a registered delegate. A BPMN error returned by the delegate is propagated
// to the closest error handler.
type ServiceTask struct {
	base

	DelegateType   string
	Config         map[string]any
	ResultVariable string

	Registry DelegateRegistry
	Resolver Resolver
}

func (*ServiceTask) Kind() pvm.Kind { return pvm.KindServiceTask }

func (t *ServiceTask) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	config := t.Config
	if t.Resolver != nil && len(config) > 0 {
		if resolved, ok := t.Resolver.Resolve(cc.Context(), config, execution.Variables()).(map[string]any); ok {
			config = resolved
		}
	}

	delegate, err := t.Registry.CreateDelegate(t.DelegateType, config)
	if err != nil {
		return fmt.Errorf("failed to create delegate for activity %s: %w", execution.ActivityID(), err)
	}

	logger := cc.Logger().With(
		"delegate_type", t.DelegateType,
		"process_instance_id", execution.ProcessInstanceID(),
	)

	result, err := delegate.Execute(cc.Context(), execution, logger)
	if err != nil {
		var bpmnErr *pvm.BpmnError
		if errors.As(err, &bpmnErr) {
			return propagation.PropagateError(cc, bpmnErr.Code, execution)
		}

		return fmt.Errorf("delegate %s of activity %s failed: %w", t.DelegateType, execution.ActivityID(), err)
	}

	if t.ResultVariable != "" {
		execution.SetVariable(t.ResultVariable, result)
	}

	return Leave(cc, execution)
}
