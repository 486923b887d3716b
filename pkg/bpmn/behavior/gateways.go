package behavior

import (
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// ExclusiveGateway takes the first outgoing flow whose condition holds, or the default flow.
type ExclusiveGateway struct{ base }

func (ExclusiveGateway) Kind() pvm.Kind { return pvm.KindExclusiveGateway }

func (ExclusiveGateway) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()

	taken, err := selectOutgoing(cc, execution, activity, true)
	if err != nil {
		return err
	}

	if len(taken) == 0 {
		if len(activity.Outgoing()) == 0 {
			return execution.End(cc)
		}

		return &pvm.DefinitionError{Op: "Execute", ActivityID: activity.ID, Err: ErrNoOutgoingFlow}
	}

	return execution.Take(cc, taken[0])
}

// ParallelGateway joins the concurrent executions arriving through its incoming flows and
// forks one execution per outgoing flow once all of them arrived.
type ParallelGateway struct{ base }

func (ParallelGateway) Kind() pvm.Kind { return pvm.KindParallelGateway }

func (ParallelGateway) Execute(cc *pvm.CommandContext, execution *pvm.Execution) error {
	activity := execution.Activity()
	execution.Inactivate()

	joined, err := execution.FindInactiveConcurrentExecutions(activity)
	if err != nil {
		return err
	}

	expected := max(len(activity.Incoming()), 1)
	if len(joined) < expected {
		cc.Logger().DebugContext(cc.Context(), "Parallel gateway waiting",
			"activity_id", activity.ID,
			"execution_id", execution.ID(),
			"joined", len(joined),
			"expected", expected)

		return nil
	}

	outgoing := activity.Outgoing()
	if len(outgoing) == 0 {
		execution.SetActive(true)

		return execution.End(cc)
	}

	return execution.TakeAll(cc, outgoing, joined)
}
