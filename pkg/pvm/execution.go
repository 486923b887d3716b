package pvm

import (
	"fmt"
	"maps"

	"github.com/qmuntal/stateless"
)

// Execution is a cursor of a running process instance. The root execution of a tree is the
// process instance itself. Parent and child links are ids resolved through the owning Tree.
type Execution struct {
	tree *Tree
	id   string
	seq  int64

	parentID          string
	childIDs          []string
	processInstanceID string
	definition        *ProcessDefinition
	activity          *Activity
	transition        *Transition
	// scopeActivityID is the activity a scope execution was created for, empty for the process instance.
	scopeActivityID string

	superExecutionID     string
	subProcessInstanceID string

	active       bool
	concurrent   bool
	scope        bool
	eventScope   bool
	compensating bool
	state        State

	variables    map[string]any
	businessKey  string
	tenantID     string
	deleteReason string

	eventName   string
	eventSource string

	fsm *stateless.StateMachine
}

func (e *Execution) ID() string {
	return e.id
}

func (e *Execution) Tree() *Tree {
	return e.tree
}

func (e *Execution) ParentID() string {
	return e.parentID
}

// Parent returns the parent execution, or nil for a process instance.
func (e *Execution) Parent() *Execution {
	if e.parentID == "" {
		return nil
	}

	return e.tree.executions[e.parentID]
}

// Children returns the live child executions in creation order.
func (e *Execution) Children() []*Execution {
	children := make([]*Execution, 0, len(e.childIDs))

	for _, id := range e.childIDs {
		if child, ok := e.tree.executions[id]; ok {
			children = append(children, child)
		}
	}

	return children
}

// NonEventScopeChildren returns the children that take part in the control flow.
func (e *Execution) NonEventScopeChildren() []*Execution {
	var children []*Execution

	for _, child := range e.Children() {
		if !child.eventScope {
			children = append(children, child)
		}
	}

	return children
}

// EventScopeChildren returns the children kept alive for compensation.
func (e *Execution) EventScopeChildren() []*Execution {
	var children []*Execution

	for _, child := range e.Children() {
		if child.eventScope {
			children = append(children, child)
		}
	}

	return children
}

func (e *Execution) IsProcessInstance() bool {
	return e.parentID == ""
}

func (e *Execution) ProcessInstanceID() string {
	return e.processInstanceID
}

func (e *Execution) ProcessInstance() *Execution {
	return e.tree.executions[e.processInstanceID]
}

func (e *Execution) ProcessDefinition() *ProcessDefinition {
	return e.definition
}

func (e *Execution) Activity() *Activity {
	return e.activity
}

func (e *Execution) ActivityID() string {
	if e.activity == nil {
		return ""
	}

	return e.activity.ID
}

func (e *Execution) SetActivity(activity *Activity) {
	e.activity = activity
}

func (e *Execution) Transition() *Transition {
	return e.transition
}

// ScopeActivity returns the activity a scope execution represents. For a process instance it
// returns nil, meaning the process definition.
func (e *Execution) ScopeActivity() *Activity {
	if e.scopeActivityID == "" {
		return nil
	}

	return e.definition.FindActivity(e.scopeActivityID)
}

// IsScopeFor reports whether e is the scope execution created for activity.
func (e *Execution) IsScopeFor(activity *Activity) bool {
	if !e.scope {
		return false
	}

	if activity == nil {
		return e.IsProcessInstance()
	}

	return e.scopeActivityID == activity.ID
}

func (e *Execution) IsActive() bool {
	return e.active
}

func (e *Execution) SetActive(active bool) {
	e.active = active
}

func (e *Execution) IsConcurrent() bool {
	return e.concurrent
}

func (e *Execution) IsScope() bool {
	return e.scope
}

func (e *Execution) IsEventScope() bool {
	return e.eventScope
}

func (e *Execution) IsCompensating() bool {
	return e.compensating
}

func (e *Execution) IsEnded() bool {
	return e.state == StateEnded
}

func (e *Execution) TenantID() string {
	return e.tenantID
}

func (e *Execution) BusinessKey() string {
	return e.businessKey
}

func (e *Execution) DeleteReason() string {
	return e.deleteReason
}

// EventName returns the event being dispatched to listeners, empty outside of a dispatch.
func (e *Execution) EventName() string {
	return e.eventName
}

// EventSource returns the id of the activity or transition firing the current event.
func (e *Execution) EventSource() string {
	return e.eventSource
}

// SuperExecution returns the call activity execution that started this process instance.
func (e *Execution) SuperExecution() *Execution {
	if e.superExecutionID == "" {
		return nil
	}

	return e.tree.executions[e.superExecutionID]
}

// SubProcessInstance returns the process instance started by this call activity execution.
func (e *Execution) SubProcessInstance() *Execution {
	if e.subProcessInstanceID == "" {
		return nil
	}

	return e.tree.executions[e.subProcessInstanceID]
}

// ScopeExecution returns the nearest scope execution, e itself when it is a scope.
func (e *Execution) ScopeExecution() *Execution {
	for current := e; current != nil; current = current.Parent() {
		if current.scope && !current.concurrent {
			return current
		}
	}

	return e.ProcessInstance()
}

// CreateExecution adds a child execution positioned at the same activity.
func (e *Execution) CreateExecution() *Execution {
	child := e.tree.newExecution(e.definition)
	child.parentID = e.id
	child.processInstanceID = e.processInstanceID
	child.activity = e.activity
	child.tenantID = e.tenantID
	child.businessKey = e.businessKey

	e.childIDs = append(e.childIDs, child.id)

	return child
}

// CreateSubProcessInstance starts a process instance of definition called from e.
func (e *Execution) CreateSubProcessInstance(definition *ProcessDefinition) *Execution {
	instance := e.tree.NewProcessInstance(definition, e.businessKey, e.tenantID)
	instance.superExecutionID = e.id
	e.subProcessInstanceID = instance.id

	return instance
}

// CreateConcurrentChild adds a concurrent child to a non concurrent scope execution.
// A leaf execution first hands its activity over to a new concurrent child. A single non
// concurrent child is wrapped by a new concurrent child.
func (e *Execution) CreateConcurrentChild() (*Execution, error) {
	if e.concurrent {
		return nil, fmt.Errorf("%w: concurrent execution %s cannot fork", ErrIllegalState, e.id)
	}

	children := e.NonEventScopeChildren()

	switch {
	case len(children) == 0:
		first := e.CreateExecution()
		first.concurrent = true
		first.active = e.active
		first.state = e.state
		first.transition = e.transition
		// Subscriptions of the scope itself stay, those of the current activity move.
		activityID := e.ActivityID()
		e.moveSubscriptions(first, func(s *EventSubscription) bool {
			return notCompensate(s) && s.ActivityID == activityID
		})
		e.tree.replace(e.id, first.id)
		e.active = false
		e.transition = nil
	case len(children) == 1 && !children[0].concurrent:
		wrapped := children[0]

		first := e.CreateExecution()
		first.concurrent = true
		first.active = false
		first.state = StateActive
		if scopeActivity := wrapped.ScopeActivity(); scopeActivity != nil {
			first.activity = scopeActivity
		}

		e.removeChildID(wrapped.id)
		wrapped.parentID = first.id
		first.childIDs = append(first.childIDs, wrapped.id)
	}

	child := e.CreateExecution()
	child.concurrent = true

	return child, nil
}

func (e *Execution) removeChildID(id string) {
	for i, childID := range e.childIDs {
		if childID == id {
			e.childIDs = append(e.childIDs[:i], e.childIDs[i+1:]...)

			return
		}
	}
}

// Variable returns the value of name, looking up the parent chain when it is not local.
func (e *Execution) Variable(name string) (any, bool) {
	for current := e; current != nil; current = current.Parent() {
		if value, ok := current.variables[name]; ok {
			return value, true
		}
	}

	return nil, false
}

func (e *Execution) HasVariable(name string) bool {
	_, ok := e.Variable(name)

	return ok
}

// Variables returns every variable visible from e. Inner values shadow outer ones.
func (e *Execution) Variables() map[string]any {
	var chain []*Execution
	for current := e; current != nil; current = current.Parent() {
		chain = append(chain, current)
	}

	variables := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(variables, chain[i].variables)
	}

	return variables
}

func (e *Execution) VariableLocal(name string) (any, bool) {
	value, ok := e.variables[name]

	return value, ok
}

// VariablesLocal returns a copy of the variables owned by e.
func (e *Execution) VariablesLocal() map[string]any {
	return maps.Clone(e.variables)
}

// SetVariable updates the variable where it is already visible. A new variable is created on
// the nearest sub-process or process instance scope so it stays invisible to sibling and outer
// scopes.
func (e *Execution) SetVariable(name string, value any) {
	for current := e; current != nil; current = current.Parent() {
		if _, ok := current.variables[name]; ok {
			current.variables[name] = value

			return
		}
	}

	e.variableScope().variables[name] = value
}

// variableScope skips the scope executions of single activities, such as tasks with boundary
// events or call activities, whose variables would vanish when the activity is left.
func (e *Execution) variableScope() *Execution {
	for current := e; current != nil; current = current.Parent() {
		if !current.scope || current.concurrent {
			continue
		}

		activity := current.ScopeActivity()
		if activity == nil || len(activity.Activities()) > 0 {
			return current
		}
	}

	return e.ProcessInstance()
}

func (e *Execution) SetVariables(variables map[string]any) {
	for name, value := range variables {
		e.SetVariable(name, value)
	}
}

func (e *Execution) SetVariableLocal(name string, value any) {
	e.variables[name] = value
}

func (e *Execution) RemoveVariableLocal(name string) {
	delete(e.variables, name)
}

// destroy releases what a scope owns while it is still in the tree: its jobs and non
// compensation subscriptions.
func (e *Execution) destroy(cc *CommandContext) {
	cc.DeleteJobsOf(e.id)
	e.deleteSubscriptions(notCompensate)
}

// Remove detaches e from the tree. Its remaining subscriptions and jobs are deleted.
func (e *Execution) Remove(cc *CommandContext) {
	if e.IsEnded() {
		return
	}

	for _, eventScope := range e.EventScopeChildren() {
		eventScope.Cancel(cc, "event scope owner removed")
	}

	cc.DeleteJobsOf(e.id)
	e.deleteSubscriptions(func(*EventSubscription) bool { return true })

	if parent := e.Parent(); parent != nil {
		parent.removeChildID(e.id)
	}

	if super := e.SuperExecution(); super != nil && super.subProcessInstanceID == e.id {
		super.subProcessInstanceID = ""
	}

	e.active = false
	_ = e.fire(triggerFinish)
	delete(e.tree.executions, e.id)
}

// CancelChildren removes every descendant of e, including called process instances.
// Event scope children survive unless includeEventScopes is set.
func (e *Execution) CancelChildren(cc *CommandContext, reason string, includeEventScopes bool) {
	for _, child := range e.Children() {
		if child.eventScope && !includeEventScopes {
			continue
		}

		child.Cancel(cc, reason)
	}
}

// Interrupt cancels the control flow below a scope execution before an interrupting event
// takes over: its non event scope children, its called process instance, its timers and its
// non compensation subscriptions.
func (e *Execution) Interrupt(cc *CommandContext, reason string) {
	for _, child := range e.NonEventScopeChildren() {
		child.Cancel(cc, reason)
	}

	if sub := e.SubProcessInstance(); sub != nil {
		sub.Cancel(cc, reason)
	}

	e.destroy(cc)
}

// Cancel removes e and everything below it.
func (e *Execution) Cancel(cc *CommandContext, reason string) {
	e.deleteReason = reason

	e.CancelChildren(cc, reason, true)

	if sub := e.SubProcessInstance(); sub != nil {
		sub.Cancel(cc, reason)
	}

	e.Remove(cc)
}

func (e *Execution) String() string {
	return "Execution[" + e.id + "]"
}
