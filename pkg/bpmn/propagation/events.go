package propagation

import (
	"fmt"

	"github.com/dukex/bpmnvm/pkg/pvm"
)

// IsInterrupting reports whether a catching event cancels the scope it belongs to. Catching
// events interrupt unless declared otherwise, error events always interrupt.
func IsInterrupting(catching *pvm.Activity) bool {
	if catching.PropertyString(pvm.PropertyEventDefinition) == pvm.EventDefinitionError {
		return true
	}

	if !catching.HasProperty(pvm.PropertyInterrupting) {
		return true
	}

	return catching.PropertyBool(pvm.PropertyInterrupting)
}

// TriggerBoundaryEvent fires boundary on the scope execution of the activity it is attached
// to. An interrupting boundary event removes that scope execution and continues on its
// parent, a non-interrupting one continues in a new concurrent child.
func TriggerBoundaryEvent(cc *pvm.CommandContext, execution *pvm.Execution, boundary *pvm.Activity) error {
	parent := execution.Parent()
	if parent == nil {
		return &pvm.DefinitionError{Op: "TriggerBoundaryEvent", ActivityID: boundary.ID, Err: fmt.Errorf("%w: boundary event on a process instance", pvm.ErrInvalidGraph)}
	}

	cc.Logger().DebugContext(cc.Context(), "Triggering boundary event",
		"boundary_id", boundary.ID,
		"execution_id", execution.ID(),
		"interrupting", IsInterrupting(boundary))

	if IsInterrupting(boundary) {
		execution.Interrupt(cc, "interrupted by boundary event "+boundary.ID)
		execution.Remove(cc)

		return parent.ExecuteActivity(cc, boundary)
	}

	root := parent
	if root.IsConcurrent() {
		root = root.Parent()
	}

	child, err := root.CreateConcurrentChild()
	if err != nil {
		return err
	}

	return child.ExecuteActivity(cc, boundary)
}

// TriggerEventSubProcess starts eventSubProcess in scopeExecution, the execution of the scope
// containing it. An interrupting event sub-process first cancels everything running in the
// scope, a non-interrupting one runs next to it in a new concurrent child.
func TriggerEventSubProcess(cc *pvm.CommandContext, scopeExecution *pvm.Execution, eventSubProcess *pvm.Activity) error {
	start := eventSubProcess.Initial()
	if start == nil {
		return &pvm.DefinitionError{Op: "TriggerEventSubProcess", ActivityID: eventSubProcess.ID, Err: fmt.Errorf("%w: event sub-process has no start event", pvm.ErrInvalidGraph)}
	}

	cc.Logger().DebugContext(cc.Context(), "Triggering event sub-process",
		"event_sub_process_id", eventSubProcess.ID,
		"execution_id", scopeExecution.ID(),
		"interrupting", IsInterrupting(start))

	if IsInterrupting(start) {
		scopeExecution.Interrupt(cc, "interrupted by event sub-process "+eventSubProcess.ID)

		return scopeExecution.ExecuteActivity(cc, eventSubProcess)
	}

	child, err := scopeExecution.CreateConcurrentChild()
	if err != nil {
		return err
	}

	return child.ExecuteActivity(cc, eventSubProcess)
}

// EventReceived delivers an event to the activity subscription was created for.
// Payload entries become variables of the execution that continues.
func EventReceived(cc *pvm.CommandContext, subscription *pvm.EventSubscription, payload map[string]any) error {
	if subscription.Type == pvm.SubscriptionCompensate {
		return HandleCompensationEvent(cc, subscription)
	}

	tree := cc.Tree()

	execution := tree.Resolve(subscription.ExecutionID)
	if execution == nil {
		return fmt.Errorf("%w: %s owning subscription %s", pvm.ErrExecutionNotFound, subscription.ExecutionID, subscription.ID)
	}

	activity := execution.ProcessDefinition().FindActivity(subscription.ActivityID)
	if activity == nil {
		return &pvm.DefinitionError{Op: "EventReceived", ActivityID: subscription.ActivityID, Err: pvm.ErrActivityNotFound}
	}

	switch {
	case pvm.IsKind(activity, pvm.KindEventSubProcessStart):
		eventSubProcess := activity.Parent()

		scopeExecution := execution.FindScopeExecution(eventSubProcess.Parent())
		if scopeExecution == nil {
			return fmt.Errorf("%w: scope of event sub-process %s", pvm.ErrExecutionNotFound, eventSubProcess.ID)
		}

		if IsInterrupting(activity) {
			tree.DeleteSubscription(subscription.ID)
		}

		scopeExecution.SetVariables(payload)

		return TriggerEventSubProcess(cc, scopeExecution, eventSubProcess)
	case pvm.IsKind(activity, pvm.KindBoundaryEvent):
		if parent := execution.Parent(); parent != nil {
			parent.SetVariables(payload)
		}

		return TriggerBoundaryEvent(cc, execution, activity)
	default:
		tree.DeleteSubscription(subscription.ID)

		return execution.Signal(cc, string(subscription.Type), payload)
	}
}
