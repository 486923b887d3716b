package pvm

import (
	"fmt"

	"github.com/dukex/bpmnvm/pkg/models"
)

// Operation is an atomic step of the interpreter. Operations run depth first on the
// goroutine of the command, so events fire in the order activities are entered and left.
type Operation string

const (
	OperationProcessStart                  Operation = "process-start"
	OperationActivityStart                 Operation = "activity-start"
	OperationActivityExecute               Operation = "activity-execute"
	OperationActivityEnd                   Operation = "activity-end"
	OperationProcessEnd                    Operation = "process-end"
	OperationTransitionNotifyListenerEnd   Operation = "transition-notify-listener-end"
	OperationTransitionDestroyScope        Operation = "transition-destroy-scope"
	OperationTransitionNotifyListenerTake  Operation = "transition-notify-listener-take"
	OperationTransitionCreateScope         Operation = "transition-create-scope"
	OperationTransitionNotifyListenerStart Operation = "transition-notify-listener-start"
)

func (e *Execution) perform(cc *CommandContext, operation Operation) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: cannot perform %s on execution %s", ErrExecutionEnded, operation, e.id)
	}

	cc.Logger().DebugContext(cc.Context(), "Performing operation",
		"operation", operation,
		"execution_id", e.id,
		"activity_id", e.ActivityID())

	switch operation {
	case OperationProcessStart:
		return e.processStart(cc)
	case OperationActivityStart:
		return e.activityStart(cc)
	case OperationActivityExecute:
		return e.activityExecute(cc)
	case OperationActivityEnd:
		return e.activityEnd(cc)
	case OperationProcessEnd:
		return e.processEnd(cc)
	case OperationTransitionNotifyListenerEnd:
		return e.transitionNotifyListenerEnd(cc)
	case OperationTransitionDestroyScope:
		return e.transitionDestroyScope(cc)
	case OperationTransitionNotifyListenerTake:
		return e.transitionNotifyListenerTake(cc)
	case OperationTransitionCreateScope:
		return e.transitionCreateScope(cc)
	case OperationTransitionNotifyListenerStart:
		return e.transitionNotifyListenerStart(cc)
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrIllegalState, operation)
	}
}

// Continue resumes an execution parked by an async continuation and performs operation
// synchronously.
func (e *Execution) Continue(cc *CommandContext, operation Operation) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	if e.state == StateSuspended {
		err := e.fire(triggerSignal)
		if err != nil {
			return err
		}
	}

	if operation == OperationTransitionCreateScope {
		return e.createScope(cc)
	}

	return e.perform(cc, operation)
}

// Start runs a new process instance from the initial activity of its definition.
func (e *Execution) Start(cc *CommandContext) error {
	if !e.IsProcessInstance() {
		return fmt.Errorf("%w: execution %s is not a process instance", ErrIllegalState, e.id)
	}

	err := e.fire(triggerActivate)
	if err != nil {
		return err
	}

	cc.Record(HistoryProcessStarted, e, nil)

	return e.perform(cc, OperationProcessStart)
}

// ExecuteActivity moves e to activity and executes it without taking a transition. Entering a
// scope activity creates its scope execution below e.
func (e *Execution) ExecuteActivity(cc *CommandContext, activity *Activity) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	if activity == nil {
		return &DefinitionError{Op: "ExecuteActivity", Err: ErrActivityNotFound}
	}

	target := e
	if activity.IsScope && !e.IsScopeFor(activity) {
		target = e.createScopeExecution(activity)
		e.active = false

		err := target.initializeScope(cc, activity)
		if err != nil {
			return err
		}
	}

	target.activity = activity
	target.transition = nil
	target.active = true

	err := target.resume()
	if err != nil {
		return err
	}

	return target.perform(cc, OperationActivityStart)
}

// Signal resumes a waiting execution through the behavior of its activity.
func (e *Execution) Signal(cc *CommandContext, name string, data any) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	activity := e.activity
	if activity == nil || activity.Behavior == nil {
		return fmt.Errorf("%w: execution %s has no activity", ErrNotSignallable, e.id)
	}

	if !activity.Behavior.Capabilities().Has(CanSignal) {
		return &DefinitionError{Op: "Signal", ActivityID: activity.ID, Err: ErrNotSignallable}
	}

	if !e.active {
		return fmt.Errorf("%w: execution %s is inactive", ErrNotSignallable, e.id)
	}

	if e.state == StateSuspended {
		err := e.fire(triggerSignal)
		if err != nil {
			return err
		}
	}

	return activity.Behavior.Signal(cc, e, name, data)
}

// Take leaves the current activity through transition.
func (e *Execution) Take(cc *CommandContext, transition *Transition) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	if e.transition != nil {
		return fmt.Errorf("%w: %s is taking %s", ErrAlreadyTakingTransition, e.id, e.transition.ID)
	}

	e.activity = transition.Source()
	e.transition = transition

	return e.perform(cc, OperationTransitionNotifyListenerEnd)
}

// End finishes the current activity without taking a transition.
func (e *Execution) End(cc *CommandContext) error {
	if e.IsEnded() {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	e.active = false

	err := e.fire(triggerEnd)
	if err != nil {
		return err
	}

	return e.perform(cc, OperationActivityEnd)
}

func (e *Execution) processStart(cc *CommandContext) error {
	definition := e.definition

	err := dispatch(cc, e, EventStart, definition.ID, definition.Listeners(EventStart))
	if err != nil {
		return err
	}

	err = e.initializeScope(cc, nil)
	if err != nil {
		return err
	}

	initial := definition.Initial()
	if initial == nil {
		return &DefinitionError{Op: "Start", Err: fmt.Errorf("%w: process %s has no initial activity", ErrInvalidGraph, definition.Key)}
	}

	e.activity = initial

	return e.transitionCreateScope(cc)
}

func (e *Execution) activityStart(cc *CommandContext) error {
	activity := e.activity

	err := dispatch(cc, e, EventStart, activity.ID, activity.Listeners(EventStart))
	if err != nil {
		return err
	}

	return e.perform(cc, OperationActivityExecute)
}

func (e *Execution) activityExecute(cc *CommandContext) error {
	activity := e.activity
	if activity.Behavior == nil {
		return &DefinitionError{Op: "Execute", ActivityID: activity.ID, Err: ErrNoBehavior}
	}

	cc.Record(HistoryActivityStarted, e, nil)

	return activity.Behavior.Execute(cc, e)
}

func (e *Execution) transitionNotifyListenerEnd(cc *CommandContext) error {
	activity := e.activity

	err := dispatch(cc, e, EventEnd, activity.ID, activity.Listeners(EventEnd))
	if err != nil {
		return err
	}

	cc.Record(HistoryActivityEnded, e, nil)

	return e.perform(cc, OperationTransitionDestroyScope)
}

func (e *Execution) transitionDestroyScope(cc *CommandContext) error {
	activity := e.activity
	propagating := e

	if activity.IsScope {
		switch {
		case e.concurrent && !e.scope:
			// A concurrent branch crossing the boundary of a scope moves up to the parent scope.
			concurrentRoot := e.Parent()
			parentScope := concurrentRoot.Parent()
			if parentScope == nil {
				return fmt.Errorf("%w: concurrent execution %s cannot leave the process scope", ErrIllegalState, e.id)
			}

			concurrentRoot.removeChildID(e.id)
			parentScope.childIDs = append(parentScope.childIDs, e.id)
			e.parentID = parentScope.id

			concurrentRoot.pruneConcurrentChildren()
		case e.concurrent && e.scope:
			e.destroy(cc)
		default:
			parent := e.Parent()
			if parent == nil {
				return fmt.Errorf("%w: process instance %s cannot leave scope %s", ErrIllegalState, e.id, activity.ID)
			}

			parent.activity = activity
			parent.transition = e.transition
			parent.active = true

			e.destroy(cc)
			e.Remove(cc)

			propagating = parent
		}
	}

	nextOuterScope := activity.Parent()
	destination := propagating.transition.Destination()

	if nextOuterScope != nil && !nextOuterScope.Contains(destination) {
		propagating.activity = nextOuterScope

		return propagating.perform(cc, OperationTransitionNotifyListenerEnd)
	}

	return propagating.perform(cc, OperationTransitionNotifyListenerTake)
}

func (e *Execution) transitionNotifyListenerTake(cc *CommandContext) error {
	transition := e.transition

	err := dispatch(cc, e, EventTake, transition.ID, transition.Listeners())
	if err != nil {
		return err
	}

	e.activity = findNextScope(e.activity.Parent(), transition.Destination())

	return e.perform(cc, OperationTransitionCreateScope)
}

func (e *Execution) transitionCreateScope(cc *CommandContext) error {
	activity := e.activity
	if activity.IsAsync {
		cc.NewJob(e, models.JobTypeAsyncContinuation, models.HandlerAsyncContinuation, string(OperationTransitionCreateScope), nil)

		return e.Suspend()
	}

	return e.createScope(cc)
}

func (e *Execution) createScope(cc *CommandContext) error {
	activity := e.activity
	propagating := e

	if activity.IsScope && !e.IsScopeFor(activity) {
		propagating = e.createScopeExecution(activity)
		propagating.transition = e.transition
		e.transition = nil
		e.active = false

		err := propagating.initializeScope(cc, activity)
		if err != nil {
			return err
		}
	}

	err := propagating.resume()
	if err != nil {
		return err
	}

	return propagating.perform(cc, OperationTransitionNotifyListenerStart)
}

func (e *Execution) transitionNotifyListenerStart(cc *CommandContext) error {
	activity := e.activity

	err := dispatch(cc, e, EventStart, activity.ID, activity.Listeners(EventStart))
	if err != nil {
		return err
	}

	if e.transition != nil {
		destination := e.transition.Destination()
		if activity != destination {
			e.activity = findNextScope(activity, destination)

			return e.perform(cc, OperationTransitionCreateScope)
		}
	}

	e.transition = nil

	return e.perform(cc, OperationActivityExecute)
}

func (e *Execution) activityEnd(cc *CommandContext) error {
	activity := e.activity

	err := dispatch(cc, e, EventEnd, activity.ID, activity.Listeners(EventEnd))
	if err != nil {
		return err
	}

	cc.Record(HistoryActivityEnded, e, nil)

	parentActivity := activity.Parent()

	switch {
	case parentActivity != nil && !parentActivity.IsScope:
		e.activity = parentActivity

		return e.perform(cc, OperationActivityEnd)
	case e.IsProcessInstance():
		return e.perform(cc, OperationProcessEnd)
	case e.scope:
		return e.endScope(cc, activity, parentActivity)
	default:
		concurrentRoot := e.Parent()
		e.Remove(cc)
		concurrentRoot.pruneConcurrentChildren()

		return nil
	}
}

func (e *Execution) endScope(cc *CommandContext, activity, parentActivity *Activity) error {
	parent := e.Parent()
	withoutOutgoing := activity.IsScope && len(activity.Outgoing()) == 0

	if withoutOutgoing && parent.concurrent && !parent.scope {
		e.destroy(cc)
		e.Remove(cc)
		parent.activity = activity

		return parent.End(cc)
	}

	if parentActivity != nil {
		if composite, ok := parentActivity.Behavior.(CompositeBehavior); ok {
			if withoutOutgoing {
				e.destroy(cc)
				e.Remove(cc)
				parent.activity = parentActivity

				return composite.LastExecutionEnded(cc, parent)
			}

			e.activity = parentActivity

			return composite.LastExecutionEnded(cc, e)
		}
	}

	e.destroy(cc)
	e.Remove(cc)

	if parentActivity == nil {
		parent.activity = activity
		if len(activity.Outgoing()) == 0 || !parent.IsProcessInstance() {
			return parent.End(cc)
		}

		return parent.perform(cc, OperationProcessEnd)
	}

	parent.activity = parentActivity

	return parent.perform(cc, OperationActivityEnd)
}

func (e *Execution) processEnd(cc *CommandContext) error {
	definition := e.definition

	err := dispatch(cc, e, EventEnd, definition.ID, definition.Listeners(EventEnd))
	if err != nil {
		return err
	}

	super := e.SuperExecution()

	var subProcessBehavior SubProcessBehavior
	if super != nil {
		behavior, ok := super.activity.Behavior.(SubProcessBehavior)
		if !ok {
			return &DefinitionError{Op: "ProcessEnd", ActivityID: super.ActivityID(), Err: fmt.Errorf("%w: super execution is not at a call activity", ErrInvalidGraph)}
		}

		subProcessBehavior = behavior

		err = subProcessBehavior.Completing(cc, super, e)
		if err != nil {
			return err
		}
	}

	cc.Record(HistoryProcessCompleted, e, nil)

	e.destroy(cc)
	e.CancelChildren(cc, "process instance ended", true)
	e.Remove(cc)

	if super != nil {
		return subProcessBehavior.Completed(cc, super)
	}

	return nil
}

// pruneConcurrentChildren collapses a concurrent root left with a single concurrent child.
func (e *Execution) pruneConcurrentChildren() {
	children := e.NonEventScopeChildren()
	if len(children) != 1 {
		return
	}

	last := children[0]
	if last.scope {
		last.concurrent = false

		return
	}

	e.activity = last.activity
	e.transition = last.transition
	e.state = last.state
	e.tree.replace(last.id, e.id)

	for _, child := range last.Children() {
		e.childIDs = append(e.childIDs, child.id)
		child.parentID = e.id
	}

	last.childIDs = nil

	for name, value := range last.variables {
		e.variables[name] = value
	}

	if !e.active && last.active {
		e.active = true
	}

	last.moveSubscriptions(e, func(*EventSubscription) bool { return true })
	last.removeFromTree()
}

// removeFromTree drops an execution whose state was taken over by another one. Its jobs keep
// pointing at its id and resolve to the replacement.
func (e *Execution) removeFromTree() {
	if parent := e.Parent(); parent != nil {
		parent.removeChildID(e.id)
	}

	e.active = false
	e.state = StateEnded
	delete(e.tree.executions, e.id)
}

func (e *Execution) createScopeExecution(activity *Activity) *Execution {
	child := e.CreateExecution()
	child.scope = true
	child.scopeActivityID = activity.ID
	child.activity = activity

	return child
}

// initializeScope creates the timers and subscriptions owned by a scope when it is entered.
// activity nil initializes the process instance.
func (e *Execution) initializeScope(cc *CommandContext, activity *Activity) error {
	var children []*Activity
	if activity == nil {
		children = e.definition.Activities()
	} else {
		children = activity.Activities()

		for _, declaration := range activity.BoundaryTimerDeclarations() {
			err := e.CreateTimer(cc, declaration, models.HandlerTimerBoundary)
			if err != nil {
				return err
			}
		}

		for _, boundary := range activity.BoundaryEvents() {
			e.subscribe(cc, boundary)
		}
	}

	for _, child := range children {
		if !IsKind(child, KindEventSubProcess) {
			continue
		}

		if start := child.Initial(); start != nil {
			e.subscribe(cc, start)
		}
	}

	return nil
}

func (e *Execution) subscribe(cc *CommandContext, catching *Activity) {
	eventName := catching.PropertyString(PropertyEventName)

	switch catching.PropertyString(PropertyEventDefinition) {
	case EventDefinitionMessage:
		e.CreateSubscription(cc, SubscriptionMessage, eventName, catching.ID, "")
	case EventDefinitionSignal:
		e.CreateSubscription(cc, SubscriptionSignal, eventName, catching.ID, "")
	}
}

// CreateTimer schedules a timer job on e for declaration.
func (e *Execution) CreateTimer(cc *CommandContext, declaration *models.TimerDeclaration, handlerType string) error {
	due, err := declaration.DueDate(cc.Now())
	if err != nil {
		return &DefinitionError{Op: "CreateTimer", ActivityID: declaration.ActivityID, Err: err}
	}

	job := cc.NewJob(e, models.JobTypeTimer, handlerType, declaration.ActivityID, &due)
	if declaration.Type == models.TimerTypeCycle {
		// Repeat holds what is left of the cycle after the occurrence due now.
		_, following, err := models.NextCycle(declaration.Expression, cc.Now())
		if err != nil {
			return &DefinitionError{Op: "CreateTimer", ActivityID: declaration.ActivityID, Err: err}
		}

		job.Repeat = following
	}

	return nil
}

func findNextScope(outerScope, destination *Activity) *Activity {
	next := destination
	for next.Parent() != nil && next.Parent() != outerScope {
		next = next.Parent()
	}

	return next
}
