package pvm_test

import (
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// automatic leaves through its first outgoing transition, or ends.
type automatic struct{}

func (automatic) Kind() pvm.Kind { return pvm.KindServiceTask }
func (automatic) Capabilities() pvm.Capabilities { return pvm.CanExecute }

func (automatic) Execute(cc *pvm.CommandContext, e *pvm.Execution) error {
	return leaveFirst(cc, e)
}

func (automatic) Signal(*pvm.CommandContext, *pvm.Execution, string, any) error {
	return pvm.ErrNotSignallable
}

type waitState struct{}

func (waitState) Kind() pvm.Kind { return pvm.KindUserTask }
func (waitState) Capabilities() pvm.Capabilities { return pvm.CanExecute | pvm.CanSignal }

func (waitState) Execute(_ *pvm.CommandContext, e *pvm.Execution) error {
	return e.Suspend()
}

func (waitState) Signal(cc *pvm.CommandContext, e *pvm.Execution, _ string, _ any) error {
	return leaveFirst(cc, e)
}

type endEvent struct{}

func (endEvent) Kind() pvm.Kind { return pvm.KindNoneEndEvent }
func (endEvent) Capabilities() pvm.Capabilities { return pvm.CanExecute }

func (endEvent) Execute(cc *pvm.CommandContext, e *pvm.Execution) error {
	return e.End(cc)
}

func (endEvent) Signal(*pvm.CommandContext, *pvm.Execution, string, any) error {
	return pvm.ErrNotSignallable
}

type parallelGateway struct{}

func (parallelGateway) Kind() pvm.Kind { return pvm.KindParallelGateway }
func (parallelGateway) Capabilities() pvm.Capabilities { return pvm.CanExecute }

func (parallelGateway) Execute(cc *pvm.CommandContext, e *pvm.Execution) error {
	activity := e.Activity()
	e.Inactivate()

	joined, err := e.FindInactiveConcurrentExecutions(activity)
	if err != nil {
		return err
	}

	if len(joined) == len(activity.Incoming()) {
		return e.TakeAll(cc, activity.Outgoing(), joined)
	}

	return nil
}

func (parallelGateway) Signal(*pvm.CommandContext, *pvm.Execution, string, any) error {
	return pvm.ErrNotSignallable
}

type embeddedSubProcess struct{}

func (embeddedSubProcess) Kind() pvm.Kind { return pvm.KindSubProcess }
func (embeddedSubProcess) Capabilities() pvm.Capabilities { return pvm.CanExecute }

func (embeddedSubProcess) Execute(cc *pvm.CommandContext, e *pvm.Execution) error {
	return e.ExecuteActivity(cc, e.Activity().Initial())
}

func (embeddedSubProcess) Signal(*pvm.CommandContext, *pvm.Execution, string, any) error {
	return pvm.ErrNotSignallable
}

func (embeddedSubProcess) LastExecutionEnded(cc *pvm.CommandContext, e *pvm.Execution) error {
	return leaveFirst(cc, e)
}

func leaveFirst(cc *pvm.CommandContext, e *pvm.Execution) error {
	outgoing := e.Activity().Outgoing()
	if len(outgoing) == 0 {
		return e.End(cc)
	}

	return e.Take(cc, outgoing[0])
}

func newCommandContext(t *testing.T, listeners map[string][]pvm.ExecutionListener) *pvm.CommandContext {
	t.Helper()

	return pvm.NewCommandContext(t.Context(), pvm.CommandConfig{
		TenantID:  "tenant-a",
		Logger:    log.Discard(),
		Clock:     clockwork.NewFakeClock(),
		Listeners: listeners,
	})
}

func oneTaskProcess(t *testing.T, configure func(b *pvm.Builder)) *pvm.ProcessDefinition {
	t.Helper()

	b := pvm.NewBuilder("oneTask").
		CreateActivity("start").Initial().Behavior(automatic{}).Transition("theTask").EndActivity().
		CreateActivity("theTask").Behavior(waitState{}).Transition("end")

	if configure != nil {
		configure(b)
	}

	definition, err := b.EndActivity().
		CreateActivity("end").Behavior(endEvent{}).EndActivity().
		Build()
	require.NoError(t, err)

	return definition
}

func forkJoinProcess(t *testing.T, scopedJoin bool) *pvm.ProcessDefinition {
	t.Helper()

	b := pvm.NewBuilder("forkJoin").
		CreateActivity("start").Initial().Behavior(automatic{}).Transition("fork").EndActivity().
		CreateActivity("fork").Behavior(parallelGateway{}).Transition("a").Transition("b").EndActivity().
		CreateActivity("a").Behavior(waitState{}).Transition("join").EndActivity().
		CreateActivity("b").Behavior(waitState{}).Transition("join").EndActivity().
		CreateActivity("join").Behavior(parallelGateway{})

	if scopedJoin {
		b.Scope()
	}

	definition, err := b.Transition("end").EndActivity().
		CreateActivity("end").Behavior(endEvent{}).EndActivity().
		Build()
	require.NoError(t, err)

	return definition
}

func executionAt(t *testing.T, tree *pvm.Tree, activityID string) *pvm.Execution {
	t.Helper()

	for _, execution := range tree.Executions() {
		if execution.ActivityID() == activityID && execution.IsActive() {
			return execution
		}
	}

	require.Failf(t, "no active execution", "activity %s", activityID)

	return nil
}

func TestOneTaskProcess(t *testing.T) {
	definition := oneTaskProcess(t, nil)
	cc := newCommandContext(t, nil)

	instance := cc.Tree().NewProcessInstance(definition, "order-1", "tenant-a")
	require.NoError(t, instance.Start(cc))

	assert.Equal(t, 1, cc.Tree().Len())
	assert.Equal(t, "theTask", instance.ActivityID())
	assert.Equal(t, pvm.StateSuspended, instance.State())

	require.NoError(t, instance.Signal(cc, "complete", nil))

	assert.True(t, instance.IsEnded())
	assert.Equal(t, 0, cc.Tree().Len())

	var types []string
	for _, event := range cc.History() {
		types = append(types, event.Type)
	}

	assert.Equal(t, pvm.HistoryProcessStarted, types[0])
	assert.Equal(t, pvm.HistoryProcessCompleted, types[len(types)-1])
}

func TestEndedExecutionFailsFast(t *testing.T) {
	definition := oneTaskProcess(t, nil)
	cc := newCommandContext(t, nil)

	instance := cc.Tree().NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))
	require.NoError(t, instance.Signal(cc, "", nil))

	err := instance.Signal(cc, "", nil)
	require.ErrorIs(t, err, pvm.ErrExecutionEnded)

	err = instance.Take(cc, definition.FindActivity("theTask").Outgoing()[0])
	require.ErrorIs(t, err, pvm.ErrExecutionEnded)
}

func TestSignalNotSignallable(t *testing.T) {
	definition := oneTaskProcess(t, nil)
	cc := newCommandContext(t, nil)

	instance := cc.Tree().NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))

	instance.SetActivity(definition.FindActivity("start"))

	err := instance.Signal(cc, "", nil)
	require.ErrorIs(t, err, pvm.ErrNotSignallable)
	assert.True(t, pvm.IsDefinitionError(err))
}

func TestForkJoin(t *testing.T) {
	definition := forkJoinProcess(t, false)
	cc := newCommandContext(t, nil)
	tree := cc.Tree()

	instance := tree.NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))

	assert.Equal(t, 3, tree.Len())
	assert.False(t, instance.IsActive())

	branchA := executionAt(t, tree, "a")
	branchB := executionAt(t, tree, "b")
	assert.True(t, branchA.IsConcurrent())
	assert.True(t, branchB.IsConcurrent())
	assert.Equal(t, instance.ID(), branchA.ParentID())

	require.NoError(t, branchA.Signal(cc, "", nil))

	assert.False(t, instance.IsEnded(), "the first arrival must not complete the join")
	assert.Equal(t, "join", branchA.ActivityID())
	assert.False(t, branchA.IsActive())
	assert.Equal(t, 3, tree.Len())

	require.NoError(t, branchB.Signal(cc, "", nil))

	assert.True(t, instance.IsEnded())
	assert.Equal(t, 0, tree.Len())
}

func TestForkJoinSecondBranchFirst(t *testing.T) {
	definition := forkJoinProcess(t, false)
	cc := newCommandContext(t, nil)
	tree := cc.Tree()

	instance := tree.NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))

	branchA := executionAt(t, tree, "a")
	branchB := executionAt(t, tree, "b")

	require.NoError(t, branchB.Signal(cc, "", nil))
	assert.False(t, instance.IsEnded())

	require.NoError(t, branchA.Signal(cc, "", nil))
	assert.True(t, instance.IsEnded())
}

func TestJoiningScopeExecutionsIsNotAllowed(t *testing.T) {
	definition := forkJoinProcess(t, true)
	cc := newCommandContext(t, nil)
	tree := cc.Tree()

	instance := tree.NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))

	err := executionAt(t, tree, "a").Signal(cc, "", nil)
	require.ErrorIs(t, err, pvm.ErrJoiningScopeExecutions)
	assert.True(t, pvm.IsDefinitionError(err))
	assert.Contains(t, err.Error(), "joining scope executions is not allowed")
}

func TestScopeVariableVisibility(t *testing.T) {
	definition, err := pvm.NewBuilder("scopes").
		CreateActivity("start").Initial().Behavior(automatic{}).Transition("sub").EndActivity().
		CreateActivity("sub").Behavior(embeddedSubProcess{}).Transition("after").
		CreateActivity("subStart").Initial().Behavior(automatic{}).Transition("subTask").EndActivity().
		CreateActivity("subTask").Behavior(waitState{}).Transition("subEnd").EndActivity().
		CreateActivity("subEnd").Behavior(endEvent{}).EndActivity().
		EndActivity().
		CreateActivity("after").Behavior(waitState{}).EndActivity().
		Build()
	require.NoError(t, err)

	cc := newCommandContext(t, nil)
	tree := cc.Tree()

	instance := tree.NewProcessInstance(definition, "", "")
	instance.SetVariable("outer", 1)
	require.NoError(t, instance.Start(cc))

	scope := executionAt(t, tree, "subTask")
	assert.True(t, scope.IsScope())
	assert.Equal(t, instance.ID(), scope.ParentID())

	value, ok := scope.Variable("outer")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	scope.SetVariable("inner", 2)
	scope.SetVariable("outer", 3)

	_, ok = instance.Variable("inner")
	assert.False(t, ok, "inner scope variables must not leak to the outer scope")

	outer, _ := instance.Variable("outer")
	assert.Equal(t, 3, outer, "visible variables are updated where they live")

	require.NoError(t, scope.Signal(cc, "", nil))

	assert.True(t, scope.IsEnded())
	assert.Equal(t, "after", instance.ActivityID())
	assert.Equal(t, 1, tree.Len())

	_, ok = instance.Variable("inner")
	assert.False(t, ok)
}

func TestListenersFailOnException(t *testing.T) {
	var calls []string

	failing := pvm.ListenerFunc(func(*pvm.CommandContext, *pvm.Execution) error {
		calls = append(calls, "failing")

		return errors.New("boom")
	})

	tolerant := pvm.TolerantListener(func(*pvm.CommandContext, *pvm.Execution) error {
		calls = append(calls, "tolerant")

		return errors.New("ignored")
	})

	recording := pvm.ListenerFunc(func(_ *pvm.CommandContext, e *pvm.Execution) error {
		calls = append(calls, e.EventName()+":"+e.EventSource())

		return nil
	})

	t.Run("tolerant listener is logged and dispatch continues", func(t *testing.T) {
		calls = nil

		definition := oneTaskProcess(t, func(b *pvm.Builder) {
			b.ExecutionListener(pvm.EventStart, tolerant).ExecutionListener(pvm.EventStart, recording)
		})

		cc := newCommandContext(t, nil)
		instance := cc.Tree().NewProcessInstance(definition, "", "")

		require.NoError(t, instance.Start(cc))
		assert.Equal(t, []string{"tolerant", "start:theTask"}, calls)
	})

	t.Run("failing listener aborts the operation", func(t *testing.T) {
		calls = nil

		definition := oneTaskProcess(t, func(b *pvm.Builder) {
			b.ExecutionListener(pvm.EventStart, failing).ExecutionListener(pvm.EventStart, recording)
		})

		cc := newCommandContext(t, nil)
		instance := cc.Tree().NewProcessInstance(definition, "", "")

		err := instance.Start(cc)
		require.Error(t, err)

		var listenerErr *pvm.ListenerError
		require.ErrorAs(t, err, &listenerErr)
		assert.Equal(t, "theTask", listenerErr.SourceID)
		assert.Equal(t, []string{"failing"}, calls)
	})

	t.Run("global listeners run after the graph listeners", func(t *testing.T) {
		calls = nil

		definition := oneTaskProcess(t, func(b *pvm.Builder) {
			b.ExecutionListener(pvm.EventEnd, recording)
		})

		global := pvm.ListenerFunc(func(_ *pvm.CommandContext, e *pvm.Execution) error {
			calls = append(calls, "global:"+e.EventSource())

			return nil
		})

		cc := newCommandContext(t, map[string][]pvm.ExecutionListener{pvm.EventTake: {global}})
		instance := cc.Tree().NewProcessInstance(definition, "", "")

		require.NoError(t, instance.Start(cc))
		require.NoError(t, instance.Signal(cc, "", nil))

		assert.Equal(t, []string{
			"global:flow_start_theTask",
			"end:theTask",
			"global:flow_theTask_end",
		}, calls)
	})
}

func TestReplacedExecutionResolves(t *testing.T) {
	definition := oneTaskProcess(t, nil)
	cc := newCommandContext(t, nil)
	tree := cc.Tree()

	instance := tree.NewProcessInstance(definition, "", "")
	require.NoError(t, instance.Start(cc))

	second, err := instance.CreateConcurrentChild()
	require.NoError(t, err)

	first := tree.Resolve(instance.ID())
	require.NotNil(t, first)
	assert.NotEqual(t, instance.ID(), first.ID())
	assert.True(t, first.IsConcurrent())
	assert.Equal(t, "theTask", first.ActivityID())
	assert.Equal(t, pvm.StateSuspended, first.State())
	assert.False(t, instance.IsActive())

	second.SetActivity(definition.FindActivity("end"))
	require.NoError(t, second.End(cc))

	assert.Equal(t, instance, tree.Resolve(first.ID()))
	assert.Equal(t, instance, tree.Resolve(instance.ID()))
	assert.Nil(t, tree.Get(first.ID()))
	assert.True(t, instance.IsActive())
	assert.Equal(t, "theTask", instance.ActivityID())

	require.NoError(t, tree.Resolve(first.ID()).Signal(cc, "", nil))
	assert.True(t, instance.IsEnded())
}

func TestAsyncContinuation(t *testing.T) {
	definition, err := pvm.NewBuilder("async").
		CreateActivity("start").Initial().Behavior(automatic{}).Transition("service").EndActivity().
		CreateActivity("service").Behavior(automatic{}).Async().Transition("end").EndActivity().
		CreateActivity("end").Behavior(endEvent{}).EndActivity().
		Build()
	require.NoError(t, err)

	cc := newCommandContext(t, nil)
	instance := cc.Tree().NewProcessInstance(definition, "", "tenant-a")
	require.NoError(t, instance.Start(cc))

	assert.Equal(t, pvm.StateSuspended, instance.State())
	assert.Equal(t, "service", instance.ActivityID())

	operations := cc.JobOperations()
	require.Len(t, operations, 1)

	job := operations[0].Insert
	require.NotNil(t, job)
	assert.Equal(t, models.JobTypeAsyncContinuation, job.Type)
	assert.Equal(t, string(pvm.OperationTransitionCreateScope), job.HandlerConfiguration)
	assert.Equal(t, instance.ID(), job.ExecutionID)
	assert.Equal(t, "tenant-a", job.TenantID)
	assert.Nil(t, job.DueDate)

	require.NoError(t, instance.Continue(cc, pvm.Operation(job.HandlerConfiguration)))
	assert.True(t, instance.IsEnded())
}

func TestTreeCloneIsIndependent(t *testing.T) {
	definition := oneTaskProcess(t, nil)
	cc := newCommandContext(t, nil)

	instance := cc.Tree().NewProcessInstance(definition, "", "")
	instance.SetVariable("items", []any{"a"})
	require.NoError(t, instance.Start(cc))

	clone := cc.Tree().Clone()
	cloned := clone.Get(instance.ID())
	require.NotNil(t, cloned)

	cloned.SetVariableLocal("items", []any{"a", "b"})

	items, _ := instance.Variable("items")
	assert.Equal(t, []any{"a"}, items)
	assert.Equal(t, pvm.StateSuspended, cloned.State())
}

func TestBuilderRejectsInvalidGraphs(t *testing.T) {
	_, err := pvm.NewBuilder("missing").
		CreateActivity("start").Initial().Behavior(automatic{}).Transition("nowhere").EndActivity().
		Build()
	require.ErrorIs(t, err, pvm.ErrActivityNotFound)

	_, err = pvm.NewBuilder("noInitial").
		CreateActivity("start").Behavior(automatic{}).EndActivity().
		Build()
	require.ErrorIs(t, err, pvm.ErrInvalidGraph)

	_, err = pvm.NewBuilder("noBehavior").
		CreateActivity("start").Initial().EndActivity().
		Build()
	require.ErrorIs(t, err, pvm.ErrNoBehavior)
}
