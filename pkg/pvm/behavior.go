package pvm

// Kind is the closed set of activity behaviors the virtual machine knows how to run.
type Kind string

const (
	KindNoneStartEvent         Kind = "noneStartEvent"
	KindNoneEndEvent           Kind = "noneEndEvent"
	KindErrorEndEvent          Kind = "errorEndEvent"
	KindUserTask               Kind = "userTask"
	KindServiceTask            Kind = "serviceTask"
	KindParallelGateway        Kind = "parallelGateway"
	KindExclusiveGateway       Kind = "exclusiveGateway"
	KindSubProcess             Kind = "subProcess"
	KindEventSubProcess        Kind = "eventSubProcess"
	KindEventSubProcessStart   Kind = "eventSubProcessStartEvent"
	KindBoundaryEvent          Kind = "boundaryEvent"
	KindIntermediateCatchEvent Kind = "intermediateCatchEvent"
	KindCompensationThrowEvent Kind = "compensationThrowEvent"
	KindCallActivity           Kind = "callActivity"
)

// Capabilities flags what a behavior supports.
type Capabilities uint8

const (
	CanExecute Capabilities = 1 << iota
	CanSignal
)

func (c Capabilities) Has(flag Capabilities) bool {
	return c&flag == flag
}

// Behavior is the runtime semantics of an activity.
type Behavior interface {
	Kind() Kind
	Capabilities() Capabilities
	Execute(cc *CommandContext, execution *Execution) error
	// Signal resumes a waiting execution. Behaviors without CanSignal return ErrNotSignallable.
	Signal(cc *CommandContext, execution *Execution, name string, data any) error
}

// CompositeBehavior is implemented by behaviors of activities containing other activities.
type CompositeBehavior interface {
	Behavior
	// LastExecutionEnded is called with the scope execution of the composite once its
	// nested activities reached an end.
	LastExecutionEnded(cc *CommandContext, execution *Execution) error
}

// SubProcessBehavior is implemented by behaviors that start a separate process instance.
type SubProcessBehavior interface {
	Behavior
	// Completing runs before the sub process instance is removed, to copy data out of it.
	Completing(cc *CommandContext, superExecution, subProcessInstance *Execution) error
	// Completed runs after the sub process instance was removed.
	Completed(cc *CommandContext, superExecution *Execution) error
}

// IsKind reports whether activity has a behavior of the given kind.
func IsKind(activity *Activity, kind Kind) bool {
	return activity != nil && activity.Behavior != nil && activity.Behavior.Kind() == kind
}

func isScopeKind(kind Kind) bool {
	switch kind {
	case KindSubProcess, KindEventSubProcess, KindCallActivity:
		return true
	default:
		return false
	}
}
