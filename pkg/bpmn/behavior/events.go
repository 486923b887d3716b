package behavior

import (
	"fmt"

	"github.com/dukex/bpmnvm/pkg/bpmn/propagation"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

type NoneStartEvent struct{ base }

func (NoneStartEvent) Kind() pvm.Kind { return pvm.KindNoneStartEvent }

func (NoneStartEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return Leave(cc, execution)
}

// EventSubProcessStartEvent starts the body of an event sub-process once it was triggered.
type EventSubProcessStartEvent struct{ base }

func (EventSubProcessStartEvent) Kind() pvm.Kind { return pvm.KindEventSubProcessStart }

func (EventSubProcessStartEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return Leave(cc, execution)
}

type NoneEndEvent struct{ base }

func (NoneEndEvent) Kind() pvm.Kind { return pvm.KindNoneEndEvent }

func (NoneEndEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return execution.End(cc)
}

// ErrorEndEvent throws the BPMN error with its errorCode property.
type ErrorEndEvent struct{ base }

func (ErrorEndEvent) Kind() pvm.Kind { return pvm.KindErrorEndEvent }

func (ErrorEndEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	code := execution.Activity().PropertyString(pvm.PropertyErrorCode)

	return propagation.PropagateError(cc, code, execution)
}

// BoundaryEvent continues after the attached activity was interrupted, or next to it.
type BoundaryEvent struct{ base }

func (BoundaryEvent) Kind() pvm.Kind { return pvm.KindBoundaryEvent }

func (BoundaryEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	return Leave(cc, execution)
}

// IntermediateCatchEvent waits for a timer, a message or a signal.
type IntermediateCatchEvent struct{}

func (IntermediateCatchEvent) Kind() pvm.Kind { return pvm.KindIntermediateCatchEvent }

func (IntermediateCatchEvent) Capabilities() pvm.Capabilities {
	return pvm.CanExecute | pvm.CanSignal
}

func (IntermediateCatchEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()
	eventName := activity.PropertyString(pvm.PropertyEventName)

	switch definition := activity.PropertyString(pvm.PropertyEventDefinition); definition {
	case pvm.EventDefinitionTimer:
		for _, declaration := range activity.TimerDeclarations() {
			err := execution.CreateTimer(cc, declaration, models.HandlerTimerCatch)
			if err != nil {
				return err
			}
		}
	case pvm.EventDefinitionMessage:
		execution.CreateSubscription(cc, pvm.SubscriptionMessage, eventName, activity.ID, "")
	case pvm.EventDefinitionSignal:
		execution.CreateSubscription(cc, pvm.SubscriptionSignal, eventName, activity.ID, "")
	default:
		return &pvm.DefinitionError{Op: "Execute", ActivityID: activity.ID, Err: fmt.Errorf("%w: unsupported catch event definition %q", pvm.ErrInvalidGraph, definition)}
	}

	return execution.Suspend()
}

func (IntermediateCatchEvent) Signal(cc *pvm.CommandContext, execution *pvm.Execution, _ string, data any) error {
	execution.DeleteSubscriptionsFor(execution.ActivityID())
	applyPayload(execution, data)

	return Leave(cc, execution)
}

// CompensationThrowEvent compensates the completed activities of its scope, or only the one
// named by its activityRef property, and continues once every handler is done.
type CompensationThrowEvent struct{}

func (CompensationThrowEvent) Kind() pvm.Kind { return pvm.KindCompensationThrowEvent }

func (CompensationThrowEvent) Capabilities() pvm.Capabilities {
	return pvm.CanExecute | pvm.CanSignal
}

func (CompensationThrowEvent) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()

	scopeExecution := execution.FindScopeExecution(activity.Parent())
	if scopeExecution == nil {
		scopeExecution = execution.ScopeExecution()
	}

	subscriptions := propagation.CompensateSubscriptions(scopeExecution, activity.PropertyString(pvm.PropertyActivityRef))
	if len(subscriptions) == 0 {
		return Leave(cc, execution)
	}

	return propagation.ThrowCompensationEvent(cc, subscriptions, execution, activity.PropertyBool(PropertyAsyncCompensation))
}

func (CompensationThrowEvent) Signal(cc *pvm.CommandContext, execution *pvm.Execution, name string, _ any) error {
	if name != pvm.SignalCompensationDone {
		return &pvm.DefinitionError{Op: "Signal", ActivityID: execution.ActivityID(), Err: pvm.ErrNotSignallable}
	}

	if len(execution.NonEventScopeChildren()) > 0 {
		return nil
	}

	return Leave(cc, execution)
}
