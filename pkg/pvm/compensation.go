package pvm

// SignalCompensationDone is the signal a throwing execution receives when one of its
// compensating executions completed.
const SignalCompensationDone = "compensationDone"

// FindScopeExecution returns the scope execution of scope above e. A nil scope is the process
// definition, whose scope execution is the process instance.
func (e *Execution) FindScopeExecution(scope *Activity) *Execution {
	if scope == nil {
		return e.ProcessInstance()
	}

	for current := e; current != nil; current = current.Parent() {
		if current.IsScopeFor(scope) {
			return current
		}
	}

	return nil
}

// CreateEventScopeExecution keeps the compensation subscriptions of the completing scope
// execution e alive. A new inactive event scope execution is added to the enclosing scope with
// a copy of e's local variables, and the enclosing scope subscribes to compensate e's activity.
// It returns nil when e holds no compensation subscription.
func (e *Execution) CreateEventScopeExecution(cc *CommandContext) *Execution {
	subscriptions := e.EventSubscriptions(SubscriptionCompensate)
	if len(subscriptions) == 0 {
		return nil
	}

	scopeExecution := e.Parent()
	for scopeExecution.Parent() != nil && (!scopeExecution.scope || scopeExecution.concurrent) {
		scopeExecution = scopeExecution.Parent()
	}

	eventScope := scopeExecution.CreateExecution()
	eventScope.active = false
	eventScope.concurrent = false
	eventScope.eventScope = true
	eventScope.scope = true
	eventScope.scopeActivityID = e.scopeActivityID
	eventScope.activity = e.ScopeActivity()
	if eventScope.activity == nil {
		eventScope.activity = e.activity
	}

	eventScope.variables = DeepCopyMap(e.variables)

	e.moveSubscriptions(eventScope, isCompensate)

	for _, nested := range e.EventScopeChildren() {
		e.removeChildID(nested.id)
		nested.parentID = eventScope.id
		eventScope.childIDs = append(eventScope.childIDs, nested.id)
	}

	scopeExecution.CreateSubscription(cc, SubscriptionCompensate, eventScope.ActivityID(), eventScope.ActivityID(), eventScope.id)

	return eventScope
}

// CreateCompensatingExecution adds the child running one compensation handler for e.
func (e *Execution) CreateCompensatingExecution() *Execution {
	child := e.CreateExecution()
	child.compensating = true

	return child
}

// AdoptForCompensation moves an event scope execution below e so its handlers run there.
func (e *Execution) AdoptForCompensation(eventScope *Execution) {
	if parent := eventScope.Parent(); parent != nil {
		parent.removeChildID(eventScope.id)
	}

	eventScope.parentID = e.id
	eventScope.eventScope = false
	eventScope.compensating = true
	e.childIDs = append(e.childIDs, eventScope.id)
}

// CompensationDone removes a finished compensating execution together with compensating
// ancestors left without work, and signals the execution that threw the compensation.
func (e *Execution) CompensationDone(cc *CommandContext) error {
	parent := e.Parent()
	e.Remove(cc)

	for parent != nil && parent.compensating {
		if len(parent.NonEventScopeChildren()) > 0 {
			return nil
		}

		next := parent.Parent()
		parent.Remove(cc)
		parent = next
	}

	if parent == nil || parent.IsEnded() {
		return nil
	}

	return parent.Signal(cc, SignalCompensationDone, nil)
}
