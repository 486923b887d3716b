// Package propagation routes BPMN errors, boundary events, event sub-process triggers and
// compensation through the execution tree.
package propagation

import (
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// Precedence of error handlers found in the same scope, highest first.
const (
	precedenceBoundaryCatchAll = iota + 1
	precedenceBoundary
	precedenceEventSubProcessCatchAll
	precedenceEventSubProcess
)

type errorHandler struct {
	// scope owning the handler, nil for the process definition
	scope      *pvm.Activity
	activity   *pvm.Activity
	precedence int
}

// PropagateError hands a BPMN error thrown by execution to the closest handler. The scopes of
// the throwing process are searched from the inside out, then the processes that called it.
func PropagateError(cc *pvm.CommandContext, code string, execution *pvm.Execution) error {
	handled, err := propagateInProcess(cc, code, execution)
	if handled {
		return err
	}

	// The first hop follows the super execution as it is, later hops go through superExecution
	// which steps to the parent of a non scope super execution.
	super := execution.ProcessInstance().SuperExecution()
	for super != nil {
		handled, err = propagateInProcess(cc, code, super)
		if handled {
			return err
		}

		super = superExecution(super)
	}

	cc.Logger().ErrorContext(cc.Context(), "Unhandled BPMN error",
		"error_code", code,
		"execution_id", execution.ID(),
		"activity_id", execution.ActivityID(),
		"process_instance_id", execution.ProcessInstanceID())

	return &pvm.UnhandledErrorError{Code: code, ProcessInstanceID: execution.ProcessInstanceID()}
}

func superExecution(execution *pvm.Execution) *pvm.Execution {
	super := execution.ProcessInstance().SuperExecution()
	if super != nil && !super.IsScope() {
		return super.Parent()
	}

	return super
}

func propagateInProcess(cc *pvm.CommandContext, code string, execution *pvm.Execution) (bool, error) {
	handler := findErrorHandler(code, execution.Activity())
	if handler == nil {
		return false, nil
	}

	scopeExecution := execution.FindScopeExecution(handler.scope)
	if scopeExecution == nil {
		return false, nil
	}

	cc.Logger().DebugContext(cc.Context(), "Catching BPMN error",
		"error_code", code,
		"handler_id", handler.activity.ID,
		"execution_id", scopeExecution.ID())

	if pvm.IsKind(handler.activity, pvm.KindEventSubProcess) {
		return true, TriggerEventSubProcess(cc, scopeExecution, handler.activity)
	}

	return true, TriggerBoundaryEvent(cc, scopeExecution, handler.activity)
}

// findErrorHandler walks from activity to the process definition. At every level the event
// sub-processes directly inside the level and the boundary events attached to it compete by
// precedence. Boundary events of siblings share the container but never catch for the level.
func findErrorHandler(code string, activity *pvm.Activity) *errorHandler {
	if activity == nil {
		return nil
	}

	for level := activity; ; level = level.Parent() {
		var candidates []*pvm.Activity
		if level == nil {
			candidates = activity.Definition().Activities()
		} else {
			candidates = append(candidates, level.Activities()...)
			candidates = append(candidates, level.BoundaryEvents()...)
		}

		var best *errorHandler

		for _, candidate := range candidates {
			precedence := errorPrecedence(code, level, candidate)
			if precedence > 0 && (best == nil || precedence > best.precedence) {
				best = &errorHandler{scope: level, activity: candidate, precedence: precedence}
			}
		}

		if best != nil {
			return best
		}

		if level == nil {
			return nil
		}
	}
}

func errorPrecedence(code string, level, candidate *pvm.Activity) int {
	switch {
	case pvm.IsKind(candidate, pvm.KindEventSubProcess):
		start := candidate.Initial()
		if start == nil || start.PropertyString(pvm.PropertyEventDefinition) != pvm.EventDefinitionError {
			return 0
		}

		return matchCode(code, start, precedenceEventSubProcess, precedenceEventSubProcessCatchAll)
	case pvm.IsKind(candidate, pvm.KindBoundaryEvent):
		if level == nil || candidate.AttachedTo() != level {
			return 0
		}

		if candidate.PropertyString(pvm.PropertyEventDefinition) != pvm.EventDefinitionError {
			return 0
		}

		return matchCode(code, candidate, precedenceBoundary, precedenceBoundaryCatchAll)
	default:
		return 0
	}
}

func matchCode(code string, catching *pvm.Activity, specific, catchAll int) int {
	switch catching.PropertyString(pvm.PropertyErrorCode) {
	case "":
		return catchAll
	case code:
		return specific
	default:
		return 0
	}
}
