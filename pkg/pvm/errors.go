package pvm

import (
	"errors"
	"fmt"
)

// Definition-integrity and runtime errors raised by the virtual machine. All of them are
// fatal to the command that triggered them.
var (
	ErrActivityNotFound        = errors.New("activity not found")
	ErrInvalidGraph            = errors.New("invalid process graph")
	ErrNoBehavior              = errors.New("activity has no behavior")
	ErrJoiningScopeExecutions  = errors.New("joining scope executions is not allowed")
	ErrExecutionEnded          = errors.New("execution already ended")
	ErrExecutionNotFound       = errors.New("execution not found")
	ErrNotSignallable          = errors.New("execution is not waiting for a signal")
	ErrAlreadyTakingTransition = errors.New("execution is already taking a transition")
	ErrIllegalState            = errors.New("illegal execution state transition")
)

// DefinitionError wraps a definition-integrity failure with the activity it concerns.
type DefinitionError struct {
	Op         string // Operation being performed (e.g., "Build", "Execute", "Take")
	ActivityID string
	Err        error
}

func (e *DefinitionError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failed for activity %s: %v", e.Op, e.ActivityID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// BpmnError is a business error thrown by a delegate or an error end event. It is caught by
// error boundary events and error event sub-processes.
type BpmnError struct {
	Code    string
	Message string
}

func NewBpmnError(code, message string) *BpmnError {
	return &BpmnError{Code: code, Message: message}
}

func (e *BpmnError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bpmn error %q", e.Code)
	}

	return fmt.Sprintf("bpmn error %q: %s", e.Code, e.Message)
}

// UnhandledErrorError is returned when no handler catches a BPMN error in the throwing
// process or any of its super processes.
type UnhandledErrorError struct {
	Code              string
	ProcessInstanceID string
}

func (e *UnhandledErrorError) Error() string {
	return fmt.Sprintf("no catching boundary event found for error with code %q in process instance %s, "+
		"neither in same process nor in parent process", e.Code, e.ProcessInstanceID)
}

// ListenerError wraps the failure of a listener declared to fail on exception.
type ListenerError struct {
	Event    string
	SourceID string
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q on %s failed: %v", e.Event, e.SourceID, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// IsDefinitionError reports whether err is a definition-integrity failure.
func IsDefinitionError(err error) bool {
	var definitionErr *DefinitionError

	return errors.As(err, &definitionErr) ||
		errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrJoiningScopeExecutions)
}

// IsUnhandledError reports whether err is an uncaught BPMN error.
func IsUnhandledError(err error) bool {
	var unhandled *UnhandledErrorError

	return errors.As(err, &unhandled)
}
