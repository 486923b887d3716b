package pvm

// Execution events.
const (
	EventStart = "start"
	EventEnd   = "end"
	EventTake  = "take"
)

// Task events fired by user tasks through the same listener contract.
const (
	TaskEventCreate   = "create"
	TaskEventComplete = "complete"
)

// ExecutionListener is notified synchronously when an event fires on an execution.
type ExecutionListener interface {
	Notify(cc *CommandContext, execution *Execution) error
	// FailOnException decides whether an error from Notify aborts the triggering operation.
	// When false the error is logged and dispatch continues.
	FailOnException() bool
}

// ListenerFunc adapts a function to an ExecutionListener that fails on exception.
type ListenerFunc func(cc *CommandContext, execution *Execution) error

func (f ListenerFunc) Notify(cc *CommandContext, execution *Execution) error {
	return f(cc, execution)
}

func (f ListenerFunc) FailOnException() bool {
	return true
}

type tolerantListener struct {
	fn ListenerFunc
}

func (l tolerantListener) Notify(cc *CommandContext, execution *Execution) error {
	return l.fn(cc, execution)
}

func (l tolerantListener) FailOnException() bool {
	return false
}

// TolerantListener adapts a function to a listener whose errors are only logged.
func TolerantListener(fn ListenerFunc) ExecutionListener {
	return tolerantListener{fn: fn}
}

// dispatch notifies listeners in registration order, then the global listeners of the command.
func dispatch(cc *CommandContext, execution *Execution, event, sourceID string, listeners []ExecutionListener) error {
	execution.eventName = event
	execution.eventSource = sourceID

	defer func() {
		execution.eventName = ""
		execution.eventSource = ""
	}()

	all := listeners
	if global := cc.globalListeners(event); len(global) > 0 {
		all = append(append(make([]ExecutionListener, 0, len(listeners)+len(global)), listeners...), global...)
	}

	for index, listener := range all {
		err := listener.Notify(cc, execution)
		if err == nil {
			continue
		}

		if listener.FailOnException() {
			return &ListenerError{Event: event, SourceID: sourceID, Err: err}
		}

		cc.Logger().WarnContext(cc.Context(), "Execution listener failed",
			"event", event,
			"source_id", sourceID,
			"listener_index", index,
			"execution_id", execution.ID(),
			"error", err)
	}

	return nil
}

// FireTaskEvent dispatches a task event registered on the execution's current activity.
func FireTaskEvent(cc *CommandContext, execution *Execution, event string) error {
	activity := execution.Activity()
	if activity == nil {
		return nil
	}

	return dispatch(cc, execution, event, activity.ID, activity.Listeners(event))
}
