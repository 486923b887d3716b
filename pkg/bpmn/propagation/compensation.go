package propagation

import (
	"fmt"
	"sort"

	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// CompensateSubscriptions returns the compensation subscriptions of scopeExecution. A non
// empty activityRef keeps only those compensating that activity.
func CompensateSubscriptions(scopeExecution *pvm.Execution, activityRef string) []*pvm.EventSubscription {
	subscriptions := scopeExecution.EventSubscriptions(pvm.SubscriptionCompensate)
	if activityRef == "" {
		return subscriptions
	}

	var matching []*pvm.EventSubscription

	for _, subscription := range subscriptions {
		if subscription.EventName == activityRef {
			matching = append(matching, subscription)
		}
	}

	return matching
}

// ThrowCompensationEvent compensates subscriptions below execution. Every subscription first
// gets its compensating execution, either the event scope execution it references or a new
// child of execution. Handlers then run in reverse order of creation, or are scheduled as
// jobs when async is set.
func ThrowCompensationEvent(cc *pvm.CommandContext, subscriptions []*pvm.EventSubscription, execution *pvm.Execution, async bool) error {
	tree := cc.Tree()

	for _, subscription := range subscriptions {
		if subscription.Configuration != "" {
			eventScope := tree.Get(subscription.Configuration)
			if eventScope == nil {
				return fmt.Errorf("%w: event scope %s of compensation subscription %s", pvm.ErrExecutionNotFound, subscription.Configuration, subscription.ID)
			}

			execution.AdoptForCompensation(eventScope)

			continue
		}

		compensating := execution.CreateCompensatingExecution()
		subscription.Configuration = compensating.ID()
	}

	ordered := append([]*pvm.EventSubscription(nil), subscriptions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Created.Equal(ordered[j].Created) {
			return ordered[i].Created.After(ordered[j].Created)
		}

		return ordered[i].Seq > ordered[j].Seq
	})

	for _, subscription := range ordered {
		if async {
			compensating := tree.Get(subscription.Configuration)
			cc.NewJob(compensating, models.JobTypeAsyncContinuation, models.HandlerCompensationEvent, subscription.ID, nil)

			continue
		}

		err := HandleCompensationEvent(cc, subscription)
		if err != nil {
			return err
		}
	}

	return nil
}

// HandleCompensationEvent runs the handler of one compensation subscription on its
// compensating execution. Compensating a scope descends into the subscriptions the scope left
// behind.
func HandleCompensationEvent(cc *pvm.CommandContext, subscription *pvm.EventSubscription) error {
	tree := cc.Tree()
	tree.DeleteSubscription(subscription.ID)

	compensating := tree.Get(subscription.Configuration)
	if compensating == nil {
		return fmt.Errorf("%w: compensating execution %s of subscription %s", pvm.ErrExecutionNotFound, subscription.Configuration, subscription.ID)
	}

	handler := compensating.ProcessDefinition().FindActivity(subscription.ActivityID)
	if handler == nil {
		return &pvm.DefinitionError{Op: "Compensate", ActivityID: subscription.ActivityID, Err: pvm.ErrActivityNotFound}
	}

	cc.Logger().DebugContext(cc.Context(), "Compensating",
		"handler_id", handler.ID,
		"compensated_activity_id", subscription.EventName,
		"execution_id", compensating.ID())

	if handler.IsScope && !handler.IsForCompensation() {
		nested := compensating.EventSubscriptions(pvm.SubscriptionCompensate)
		if len(nested) == 0 {
			return compensating.CompensationDone(cc)
		}

		return ThrowCompensationEvent(cc, nested, compensating, false)
	}

	return compensating.ExecuteActivity(cc, handler)
}
