package pvm

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"
)

// State is the lifecycle state of an execution.
type State string

const (
	StateCreated   State = "CREATED"
	StateActive    State = "ACTIVE"
	StateSuspended State = "SUSPENDED"
	StateEnding    State = "ENDING"
	StateEnded     State = "ENDED"
)

type trigger string

const (
	triggerActivate trigger = "activate"
	triggerSuspend  trigger = "suspend"
	triggerSignal   trigger = "signal"
	triggerEnd      trigger = "end"
	triggerFinish   trigger = "finish"
)

func (e *Execution) lifecycle() *stateless.StateMachine {
	if e.fsm != nil {
		return e.fsm
	}

	fsm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return e.state, nil
		},
		func(_ context.Context, state stateless.State) error {
			e.state = state.(State)

			return nil
		},
		stateless.FiringImmediate,
	)

	fsm.Configure(StateCreated).
		Permit(triggerActivate, StateActive).
		Permit(triggerSuspend, StateSuspended).
		Permit(triggerEnd, StateEnding).
		Permit(triggerFinish, StateEnded)

	fsm.Configure(StateActive).
		Ignore(triggerActivate).
		Permit(triggerSuspend, StateSuspended).
		Permit(triggerEnd, StateEnding).
		Permit(triggerFinish, StateEnded)

	fsm.Configure(StateSuspended).
		Ignore(triggerSuspend).
		Permit(triggerSignal, StateActive).
		Permit(triggerEnd, StateEnding).
		Permit(triggerFinish, StateEnded)

	fsm.Configure(StateEnding).
		Ignore(triggerEnd).
		Permit(triggerActivate, StateActive).
		Permit(triggerFinish, StateEnded)

	fsm.Configure(StateEnded)

	e.fsm = fsm

	return fsm
}

func (e *Execution) fire(t trigger) error {
	if e.state == StateEnded {
		return fmt.Errorf("%w: execution %s", ErrExecutionEnded, e.id)
	}

	err := e.lifecycle().Fire(t)
	if err != nil {
		return fmt.Errorf("%w: execution %s cannot %s in state %s", ErrIllegalState, e.id, t, e.state)
	}

	return nil
}

// resume moves a created, ending or suspended execution back to active.
func (e *Execution) resume() error {
	if e.state == StateSuspended {
		return e.fire(triggerSignal)
	}

	return e.fire(triggerActivate)
}

// Suspend puts the execution in a wait state. Only a signal resumes it.
func (e *Execution) Suspend() error {
	return e.fire(triggerSuspend)
}

// State returns the lifecycle state.
func (e *Execution) State() State {
	return e.state
}

func (e *Execution) IsSuspended() bool {
	return e.state == StateSuspended
}
