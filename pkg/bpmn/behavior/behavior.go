// Package behavior implements the runtime semantics of the BPMN activities the engine supports.
package behavior

import (
	"errors"
	"fmt"

	"github.com/dukex/bpmnvm/pkg/pvm"
)

// ErrNoOutgoingFlow is returned when an activity with outgoing sequence flows cannot select any.
var ErrNoOutgoingFlow = errors.New("no outgoing sequence flow could be selected")

// Activity properties read by behaviors.
const (
	PropertyAsyncCompensation = "asyncCompensation"
	PropertyResultVariable    = "resultVariable"
)

// base provides the signal handling of behaviors that never wait.
type base struct{}

func (base) Capabilities() pvm.Capabilities {
	return pvm.CanExecute
}

func (base) Signal(_ *pvm.CommandContext, execution *pvm.Execution, _ string, _ any) error {
	return &pvm.DefinitionError{Op: "Signal", ActivityID: execution.ActivityID(), Err: pvm.ErrNotSignallable}
}

// Leave completes the current activity of execution. When the activity declares a
// compensation handler the enclosing scope subscribes to it first. Outgoing sequence flows
// whose condition holds are taken, in parallel when more than one qualifies, falling back to
// the default flow. Without outgoing flows the execution ends, or reports compensation done
// when the activity is a compensation handler.
func Leave(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()

	if handlerID := activity.PropertyString(pvm.PropertyCompensationHandler); handlerID != "" {
		handler := activity.Definition().FindActivity(handlerID)
		if handler == nil {
			return &pvm.DefinitionError{Op: "Leave", ActivityID: handlerID, Err: pvm.ErrActivityNotFound}
		}

		scopeExecution := execution.FindScopeExecution(handler.Parent())
		if scopeExecution == nil {
			scopeExecution = execution.ScopeExecution()
		}

		scopeExecution.CreateSubscription(cc, pvm.SubscriptionCompensate, activity.ID, handler.ID, "")
	}

	taken, err := selectOutgoing(cc, execution, activity, false)
	if err != nil {
		return err
	}

	switch len(taken) {
	case 0:
		if len(activity.Outgoing()) > 0 {
			return &pvm.DefinitionError{Op: "Leave", ActivityID: activity.ID, Err: ErrNoOutgoingFlow}
		}

		if activity.IsForCompensation() {
			return execution.CompensationDone(cc)
		}

		return execution.End(cc)
	case 1:
		return execution.Take(cc, taken[0])
	default:
		execution.Inactivate()

		return execution.TakeAll(cc, taken, []*pvm.Execution{execution})
	}
}

// selectOutgoing evaluates the outgoing flows of activity in declaration order. The default
// flow is only selected when no other flow qualifies. firstOnly stops at the first match.
func selectOutgoing(cc *pvm.CommandContext, execution *pvm.Execution, activity *pvm.Activity, firstOnly bool) ([]*pvm.Transition, error) {
	defaultFlow := activity.PropertyString(pvm.PropertyDefaultFlow)

	var taken []*pvm.Transition

	for _, transition := range activity.Outgoing() {
		if transition.ID == defaultFlow {
			continue
		}

		ok, err := cc.EvaluateCondition(transition.Condition, execution)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate sequence flow %s: %w", transition.ID, err)
		}

		if !ok {
			continue
		}

		taken = append(taken, transition)
		if firstOnly {
			break
		}
	}

	if len(taken) == 0 && defaultFlow != "" {
		transition := activity.FindOutgoing(defaultFlow)
		if transition == nil {
			return nil, &pvm.DefinitionError{Op: "Leave", ActivityID: activity.ID, Err: fmt.Errorf("%w: default flow %s", pvm.ErrInvalidGraph, defaultFlow)}
		}

		taken = append(taken, transition)
	}

	return taken, nil
}

// applyPayload stores the entries of a signal payload as variables.
func applyPayload(execution *pvm.Execution, data any) {
	if variables, ok := data.(map[string]any); ok {
		execution.SetVariables(variables)
	}
}
