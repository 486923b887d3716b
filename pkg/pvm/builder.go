package pvm

import (
	"fmt"
	"strconv"

	"github.com/dukex/bpmnvm/pkg/models"
)

// Builder assembles a ProcessDefinition. Activities created between CreateActivity and
// EndActivity calls nest inside the enclosing activity.
type Builder struct {
	definition  *ProcessDefinition
	stack       []*Activity
	created     []*Activity
	transitions []*pendingTransition
	err         error
}

type pendingTransition struct {
	id        string
	sourceID  string
	destID    string
	condition string
	listeners []ExecutionListener
}

// TransitionOption configures a transition created by Builder.Transition.
type TransitionOption func(*pendingTransition)

func WithTransitionID(id string) TransitionOption {
	return func(t *pendingTransition) {
		t.id = id
	}
}

func WithCondition(expression string) TransitionOption {
	return func(t *pendingTransition) {
		t.condition = expression
	}
}

func WithTakeListener(listener ExecutionListener) TransitionOption {
	return func(t *pendingTransition) {
		t.listeners = append(t.listeners, listener)
	}
}

// NewBuilder starts a definition with the given key.
func NewBuilder(key string) *Builder {
	return &Builder{
		definition: &ProcessDefinition{
			ID:        key,
			Key:       key,
			Version:   1,
			index:     make(map[string]*Activity),
			listeners: make(map[string][]ExecutionListener),
		},
	}
}

func (b *Builder) current() *Activity {
	if len(b.stack) == 0 {
		return nil
	}

	return b.stack[len(b.stack)-1]
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}

	return b
}

// Name names the current activity, or the definition outside of any activity.
func (b *Builder) Name(name string) *Builder {
	if activity := b.current(); activity != nil {
		activity.Name = name
	} else {
		b.definition.Name = name
	}

	return b
}

func (b *Builder) Version(version int) *Builder {
	b.definition.Version = version

	return b
}

func (b *Builder) TenantID(tenantID string) *Builder {
	b.definition.TenantID = tenantID

	return b
}

func (b *Builder) CreateActivity(id string) *Builder {
	if id == "" {
		return b.fail(&DefinitionError{Op: "Build", Err: fmt.Errorf("%w: empty activity id", ErrInvalidGraph)})
	}

	if _, exists := b.definition.index[id]; exists {
		return b.fail(&DefinitionError{Op: "Build", ActivityID: id, Err: fmt.Errorf("%w: duplicate activity id", ErrInvalidGraph)})
	}

	parent := b.current()
	activity := &Activity{
		ID:         id,
		definition: b.definition,
		parent:     parent,
		properties: make(map[string]any),
		listeners:  make(map[string][]ExecutionListener),
	}

	if parent == nil {
		b.definition.activities = append(b.definition.activities, activity)
	} else {
		parent.children = append(parent.children, activity)
	}

	b.definition.index[id] = activity
	b.created = append(b.created, activity)
	b.stack = append(b.stack, activity)

	return b
}

func (b *Builder) EndActivity() *Builder {
	if len(b.stack) == 0 {
		return b.fail(&DefinitionError{Op: "Build", Err: fmt.Errorf("%w: EndActivity without CreateActivity", ErrInvalidGraph)})
	}

	b.stack = b.stack[:len(b.stack)-1]

	return b
}

// Initial marks the current activity as the start of its container.
func (b *Builder) Initial() *Builder {
	activity := b.current()
	if activity == nil {
		return b.fail(&DefinitionError{Op: "Build", Err: fmt.Errorf("%w: Initial outside of an activity", ErrInvalidGraph)})
	}

	if activity.parent == nil {
		b.definition.initial = activity
	} else {
		activity.parent.initial = activity
	}

	return b
}

func (b *Builder) Behavior(behavior Behavior) *Builder {
	if activity := b.current(); activity != nil {
		activity.Behavior = behavior
	}

	return b
}

func (b *Builder) Scope() *Builder {
	if activity := b.current(); activity != nil {
		activity.IsScope = true
	}

	return b
}

func (b *Builder) Async() *Builder {
	if activity := b.current(); activity != nil {
		activity.IsAsync = true
	}

	return b
}

func (b *Builder) Property(name string, value any) *Builder {
	if activity := b.current(); activity != nil {
		activity.properties[name] = value
	}

	return b
}

// AttachedTo makes the current activity a boundary event of activityID.
func (b *Builder) AttachedTo(activityID string) *Builder {
	if activity := b.current(); activity != nil {
		activity.attachedToID = activityID
	}

	return b
}

// Timer declares a timer on the current activity. Timers of boundary events are created
// when the attached activity's scope is entered.
func (b *Builder) Timer(declaration models.TimerDeclaration) *Builder {
	activity := b.current()
	if activity == nil {
		return b.fail(&DefinitionError{Op: "Build", Err: fmt.Errorf("%w: timer outside of an activity", ErrInvalidGraph)})
	}

	if declaration.ActivityID == "" {
		declaration.ActivityID = activity.ID
	}

	activity.timers = append(activity.timers, &declaration)

	return b
}

// ExecutionListener registers a listener on the current activity, or on the definition.
func (b *Builder) ExecutionListener(event string, listener ExecutionListener) *Builder {
	if activity := b.current(); activity != nil {
		activity.listeners[event] = append(activity.listeners[event], listener)
	} else {
		b.definition.listeners[event] = append(b.definition.listeners[event], listener)
	}

	return b
}

// Transition adds a sequence flow from the current activity to destinationID.
func (b *Builder) Transition(destinationID string, options ...TransitionOption) *Builder {
	source := b.current()
	if source == nil {
		return b.fail(&DefinitionError{Op: "Build", Err: fmt.Errorf("%w: transition outside of an activity", ErrInvalidGraph)})
	}

	transition := &pendingTransition{
		id:       "flow_" + source.ID + "_" + destinationID,
		sourceID: source.ID,
		destID:   destinationID,
	}

	for _, option := range options {
		option(transition)
	}

	b.transitions = append(b.transitions, transition)

	return b
}

// Build resolves references and validates the graph.
func (b *Builder) Build() (*ProcessDefinition, error) {
	if b.err != nil {
		return nil, b.err
	}

	if len(b.stack) != 0 {
		return nil, &DefinitionError{Op: "Build", ActivityID: b.current().ID, Err: fmt.Errorf("%w: activity not ended", ErrInvalidGraph)}
	}

	definition := b.definition

	seen := make(map[string]bool, len(b.transitions))
	for _, pending := range b.transitions {
		err := b.resolveTransition(pending, seen)
		if err != nil {
			return nil, err
		}
	}

	for _, activity := range b.created {
		err := b.resolveActivity(activity)
		if err != nil {
			return nil, err
		}
	}

	if definition.initial == nil {
		return nil, &DefinitionError{Op: "Build", Err: fmt.Errorf("%w: process %s has no initial activity", ErrInvalidGraph, definition.Key)}
	}

	if definition.ID == definition.Key {
		definition.ID = definition.Key + ":" + strconv.Itoa(definition.Version)
	}

	return definition, nil
}

func (b *Builder) resolveTransition(pending *pendingTransition, seen map[string]bool) error {
	if seen[pending.id] {
		return &DefinitionError{Op: "Build", ActivityID: pending.sourceID, Err: fmt.Errorf("%w: duplicate transition %s", ErrInvalidGraph, pending.id)}
	}

	seen[pending.id] = true

	source := b.definition.index[pending.sourceID]
	destination := b.definition.index[pending.destID]

	if destination == nil {
		return &DefinitionError{Op: "Build", ActivityID: pending.destID, Err: ErrActivityNotFound}
	}

	transition := &Transition{
		ID:          pending.id,
		Condition:   pending.condition,
		source:      source,
		destination: destination,
		listeners:   pending.listeners,
	}

	source.outgoing = append(source.outgoing, transition)
	destination.incoming = append(destination.incoming, transition)

	return nil
}

func (b *Builder) resolveActivity(activity *Activity) error {
	if activity.Behavior == nil {
		return &DefinitionError{Op: "Build", ActivityID: activity.ID, Err: ErrNoBehavior}
	}

	if isScopeKind(activity.Behavior.Kind()) {
		activity.IsScope = true
	}

	if activity.attachedToID != "" {
		target := b.definition.index[activity.attachedToID]
		if target == nil {
			return &DefinitionError{Op: "Build", ActivityID: activity.attachedToID, Err: ErrActivityNotFound}
		}

		if target.parent != activity.parent {
			return &DefinitionError{Op: "Build", ActivityID: activity.ID, Err: fmt.Errorf("%w: boundary event must share the container of %s", ErrInvalidGraph, target.ID)}
		}

		activity.attachedTo = target
		target.boundaries = append(target.boundaries, activity)
		target.IsScope = true
		target.boundaryTimers = append(target.boundaryTimers, activity.timers...)
		activity.timers = nil
	}

	if handlerID := activity.PropertyString(PropertyCompensationHandler); handlerID != "" {
		if b.definition.index[handlerID] == nil {
			return &DefinitionError{Op: "Build", ActivityID: handlerID, Err: ErrActivityNotFound}
		}
	}

	if len(activity.children) > 0 && activity.initial == nil {
		for _, child := range activity.children {
			if IsKind(child, KindNoneStartEvent) || IsKind(child, KindEventSubProcessStart) {
				activity.initial = child

				break
			}
		}
	}

	if _, composite := activity.Behavior.(CompositeBehavior); composite && activity.initial == nil {
		return &DefinitionError{Op: "Build", ActivityID: activity.ID, Err: fmt.Errorf("%w: composite activity has no start activity", ErrInvalidGraph)}
	}

	return nil
}
