package behavior

import (
	"fmt"

	"github.com/dukex/bpmnvm/pkg/expression"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// SubProcess runs its nested activities in its own scope execution.
type SubProcess struct{ base }

func (SubProcess) Kind() pvm.Kind { return pvm.KindSubProcess }

func (SubProcess) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return executeInitial(cc, execution)
}

// LastExecutionEnded keeps the compensation subscriptions of the scope alive in an event scope
// execution before leaving the sub-process.
func (SubProcess) LastExecutionEnded(cc *pvm.CommandContext, execution *pvm.Execution) error {
	execution.CreateEventScopeExecution(cc)

	return Leave(cc, execution)
}

// EventSubProcess is a sub-process started by an event of its enclosing scope.
type EventSubProcess struct{ base }

func (EventSubProcess) Kind() pvm.Kind { return pvm.KindEventSubProcess }

func (EventSubProcess) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return executeInitial(cc, execution)
}

func (EventSubProcess) LastExecutionEnded(cc *pvm.CommandContext, execution *pvm.Execution) error {
	execution.CreateEventScopeExecution(cc)

	return Leave(cc, execution)
}

func executeInitial(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()

	initial := activity.Initial()
	if initial == nil {
		return &pvm.DefinitionError{Op: "Execute", ActivityID: activity.ID, Err: fmt.Errorf("%w: no start event", pvm.ErrInvalidGraph)}
	}

	return execution.ExecuteActivity(cc, initial)
}

// Mapping copies a value between a calling and a called process. Source is either a variable
// name or an expression.
type Mapping struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

// CallActivity starts the latest version of another process and waits for it to complete.
type CallActivity struct {
	base

	CalledElement string
	Inputs        []Mapping
	Outputs       []Mapping
}

func (*CallActivity) Kind() pvm.Kind { return pvm.KindCallActivity }

func (c *CallActivity) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	lookup := cc.Definitions()
	if lookup == nil {
		return fmt.Errorf("no definition lookup configured to call %s", c.CalledElement)
	}

	definition, err := lookup.LatestByKey(execution.TenantID(), c.CalledElement)
	if err != nil {
		return fmt.Errorf("failed to find called process %s: %w", c.CalledElement, err)
	}

	sub := execution.CreateSubProcessInstance(definition)

	for _, input := range c.Inputs {
		value, err := mappedValue(cc, execution, input.Source)
		if err != nil {
			return err
		}

		sub.SetVariableLocal(input.Target, value)
	}

	return sub.Start(cc)
}

func (c *CallActivity) Completing(cc *pvm.CommandContext, superExecution, subProcessInstance *pvm.Execution) error {
	for _, output := range c.Outputs {
		value, err := mappedValue(cc, subProcessInstance, output.Source)
		if err != nil {
			return err
		}

		superExecution.SetVariable(output.Target, value)
	}

	return nil
}

func (c *CallActivity) Completed(cc *pvm.CommandContext, superExecution *pvm.Execution) error {
	return Leave(cc, superExecution)
}

func mappedValue(cc *pvm.CommandContext, execution *pvm.Execution, source string) (any, error) {
	if !expression.NeedsEvaluation(source) {
		value, _ := execution.Variable(source)

		return value, nil
	}

	value, err := cc.Evaluate(source, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate mapping %q: %w", source, err)
	}

	return value, nil
}
