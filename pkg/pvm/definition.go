package pvm

import (
	"github.com/dukex/bpmnvm/pkg/models"
)

// Well known activity properties.
const (
	PropertyEventDefinition     = "eventDefinition"
	PropertyErrorCode           = "errorCode"
	PropertyTriggeredByEvent    = "triggeredByEvent"
	PropertyInterrupting        = "interrupting"
	PropertyCompensationHandler = "compensationHandler"
	PropertyIsForCompensation   = "isForCompensation"
	PropertyDefaultFlow         = "defaultFlow"
	PropertyActivityRef         = "activityRef"
	PropertyEventName           = "eventName"
)

// Event definition values of PropertyEventDefinition.
const (
	EventDefinitionError      = "error"
	EventDefinitionTimer      = "timer"
	EventDefinitionMessage    = "message"
	EventDefinitionSignal     = "signal"
	EventDefinitionCompensate = "compensate"
)

// ProcessDefinition is the immutable, compiled activity graph of a process.
type ProcessDefinition struct {
	ID       string
	Key      string
	Name     string
	Version  int
	TenantID string

	initial    *Activity
	activities []*Activity
	index      map[string]*Activity
	listeners  map[string][]ExecutionListener
}

// FindActivity returns the activity with id anywhere in the graph, or nil.
func (d *ProcessDefinition) FindActivity(id string) *Activity {
	return d.index[id]
}

// Activities returns the top-level activities.
func (d *ProcessDefinition) Activities() []*Activity {
	return d.activities
}

// Contains reports whether activity belongs to this definition.
func (d *ProcessDefinition) Contains(activity *Activity) bool {
	return activity != nil && activity.definition == d
}

// Initial returns the activity a new process instance starts in.
func (d *ProcessDefinition) Initial() *Activity {
	return d.initial
}

// Listeners returns the process-level listeners for event.
func (d *ProcessDefinition) Listeners(event string) []ExecutionListener {
	return d.listeners[event]
}

// Activity is a node of the process graph. Activities never change once the definition is built.
type Activity struct {
	ID       string
	Name     string
	Behavior Behavior
	IsScope  bool
	IsAsync  bool

	definition *ProcessDefinition
	parent     *Activity
	children   []*Activity
	initial    *Activity
	outgoing   []*Transition
	incoming   []*Transition
	properties map[string]any
	listeners  map[string][]ExecutionListener

	attachedToID   string
	attachedTo     *Activity
	boundaries     []*Activity
	timers         []*models.TimerDeclaration
	boundaryTimers []*models.TimerDeclaration
}

func (a *Activity) Definition() *ProcessDefinition {
	return a.definition
}

// Parent returns the containing activity, or nil for top-level activities.
func (a *Activity) Parent() *Activity {
	return a.parent
}

// Activities returns the direct children of the activity.
func (a *Activity) Activities() []*Activity {
	return a.children
}

// Initial returns the start activity of a composite activity.
func (a *Activity) Initial() *Activity {
	return a.initial
}

// Contains reports whether other is nested, at any depth, inside a.
func (a *Activity) Contains(other *Activity) bool {
	if other == nil {
		return false
	}

	for parent := other.parent; parent != nil; parent = parent.parent {
		if parent == a {
			return true
		}
	}

	return false
}

func (a *Activity) Outgoing() []*Transition {
	return a.outgoing
}

func (a *Activity) Incoming() []*Transition {
	return a.incoming
}

// FindOutgoing returns the outgoing transition with id, or nil.
func (a *Activity) FindOutgoing(id string) *Transition {
	for _, transition := range a.outgoing {
		if transition.ID == id {
			return transition
		}
	}

	return nil
}

func (a *Activity) Property(name string) any {
	return a.properties[name]
}

func (a *Activity) PropertyString(name string) string {
	value, _ := a.properties[name].(string)

	return value
}

func (a *Activity) PropertyBool(name string) bool {
	value, _ := a.properties[name].(bool)

	return value
}

// HasProperty reports whether the property was declared, even with a zero value.
func (a *Activity) HasProperty(name string) bool {
	_, ok := a.properties[name]

	return ok
}

func (a *Activity) Listeners(event string) []ExecutionListener {
	return a.listeners[event]
}

// AttachedTo returns the activity a boundary event is attached to.
func (a *Activity) AttachedTo() *Activity {
	return a.attachedTo
}

// BoundaryEvents returns the boundary events attached to a.
func (a *Activity) BoundaryEvents() []*Activity {
	return a.boundaries
}

// TimerDeclarations returns the timers of an intermediate timer catch event.
func (a *Activity) TimerDeclarations() []*models.TimerDeclaration {
	return a.timers
}

// BoundaryTimerDeclarations returns the timers created when a's scope is entered.
func (a *Activity) BoundaryTimerDeclarations() []*models.TimerDeclaration {
	return a.boundaryTimers
}

func (a *Activity) IsForCompensation() bool {
	return a.PropertyBool(PropertyIsForCompensation)
}

func (a *Activity) String() string {
	return "Activity(" + a.ID + ")"
}

// Transition is a sequence flow between two activities.
type Transition struct {
	ID        string
	Condition string

	source      *Activity
	destination *Activity
	listeners   []ExecutionListener
}

func (t *Transition) Source() *Activity {
	return t.source
}

func (t *Transition) Destination() *Activity {
	return t.destination
}

// Listeners returns the "take" listeners of the transition.
func (t *Transition) Listeners() []ExecutionListener {
	return t.listeners
}

func (t *Transition) String() string {
	return "Transition(" + t.ID + ")"
}
