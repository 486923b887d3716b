package pvm

import (
	"fmt"
)

// Inactivate parks the execution, typically at a joining gateway.
func (e *Execution) Inactivate() {
	e.active = false
}

// ConcurrentRoot returns the scope execution owning e's concurrent siblings, or e itself.
func (e *Execution) ConcurrentRoot() *Execution {
	if e.concurrent && !e.scope {
		return e.Parent()
	}

	return e
}

// FindInactiveConcurrentExecutions returns the executions parked in activity that share
// e's concurrent root, e included. A scope execution cannot be joined with the concurrent
// siblings of its parent.
func (e *Execution) FindInactiveConcurrentExecutions(activity *Activity) ([]*Execution, error) {
	if e.scope && len(activity.Incoming()) > 1 {
		if parent := e.Parent(); parent != nil && parent.concurrent {
			return nil, &DefinitionError{Op: "Join", ActivityID: activity.ID, Err: ErrJoiningScopeExecutions}
		}
	}

	if !e.concurrent {
		if !e.active {
			return []*Execution{e}, nil
		}

		return nil, nil
	}

	var inactive []*Execution

	for _, sibling := range e.Parent().NonEventScopeChildren() {
		if sibling.activity == activity && !sibling.active {
			inactive = append(inactive, sibling)
		}
	}

	return inactive, nil
}

// TakeAll leaves the current activity through every transition. Recyclable executions are
// reused for the outgoing paths, the rest of them are pruned. A single outgoing path taken
// when no sibling is active anymore continues on the concurrent root.
func (e *Execution) TakeAll(cc *CommandContext, transitions []*Transition, recyclable []*Execution) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	if len(recyclable) > 1 {
		for _, execution := range recyclable {
			if execution.scope {
				return &DefinitionError{Op: "TakeAll", ActivityID: e.ActivityID(), Err: ErrJoiningScopeExecutions}
			}
		}
	}

	activity := e.activity
	concurrentRoot := e.ConcurrentRoot()

	var active, inactive []*Execution

	for _, child := range concurrentRoot.NonEventScopeChildren() {
		if child.active {
			active = append(active, child)
		} else {
			inactive = append(inactive, child)
		}
	}

	recycled := make([]*Execution, 0, len(recyclable))
	for _, execution := range recyclable {
		if execution != concurrentRoot {
			recycled = append(recycled, execution)
		}
	}

	if len(transitions) == 1 && len(active) == 0 && allExecutionsInSameActivity(inactive) {
		for _, pruned := range recycled {
			if !pruned.IsEnded() {
				pruned.Remove(cc)
			}
		}

		concurrentRoot.active = true
		concurrentRoot.activity = activity
		concurrentRoot.concurrent = false
		concurrentRoot.transition = nil

		err := concurrentRoot.resume()
		if err != nil {
			return err
		}

		return concurrentRoot.Take(cc, transitions[0])
	}

	outgoing := make([]*Execution, 0, len(transitions))

	for range transitions {
		var execution *Execution
		if len(recycled) == 0 {
			execution = concurrentRoot.CreateExecution()
		} else {
			execution = recycled[0]
			recycled = recycled[1:]
		}

		execution.active = true
		execution.scope = false
		execution.concurrent = true
		execution.activity = activity
		execution.transition = nil
		outgoing = append(outgoing, execution)
	}

	concurrentRoot.active = false

	for _, pruned := range recycled {
		if !pruned.IsEnded() {
			pruned.Remove(cc)
		}
	}

	for i, execution := range outgoing {
		// A branch completing synchronously may have collapsed the concurrent root into
		// a remaining outgoing execution.
		current := e.tree.Resolve(execution.id)
		if current == nil || current.IsEnded() {
			continue
		}

		err := current.Take(cc, transitions[i])
		if err != nil {
			return err
		}
	}

	return nil
}

func allExecutionsInSameActivity(executions []*Execution) bool {
	if len(executions) <= 1 {
		return true
	}

	activityID := executions[0].ActivityID()
	for _, execution := range executions[1:] {
		if !execution.IsEnded() && execution.ActivityID() != activityID {
			return false
		}
	}

	return true
}
