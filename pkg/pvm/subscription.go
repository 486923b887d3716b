package pvm

import (
	"sort"
	"time"
)

type SubscriptionType string

const (
	SubscriptionMessage    SubscriptionType = "message"
	SubscriptionSignal     SubscriptionType = "signal"
	SubscriptionCompensate SubscriptionType = "compensate"
)

// EventSubscription registers interest of an execution in an event.
// Configuration references an execution by id, it never owns it.
type EventSubscription struct {
	ID                string           `json:"id"`
	Type              SubscriptionType `json:"type"`
	EventName         string           `json:"event_name,omitempty"`
	ActivityID        string           `json:"activity_id"`
	Configuration     string           `json:"configuration,omitempty"`
	ExecutionID       string           `json:"execution_id"`
	ProcessInstanceID string           `json:"process_instance_id"`
	TenantID          string           `json:"tenant_id,omitempty"`
	Created           time.Time        `json:"created"`
	Seq               int64            `json:"seq"`
}

// CreateSubscription registers a subscription owned by the execution.
func (e *Execution) CreateSubscription(cc *CommandContext, subscriptionType SubscriptionType, eventName, activityID, configuration string) *EventSubscription {
	tree := e.tree
	tree.seq++

	subscription := &EventSubscription{
		ID:                tree.newID(),
		Type:              subscriptionType,
		EventName:         eventName,
		ActivityID:        activityID,
		Configuration:     configuration,
		ExecutionID:       e.id,
		ProcessInstanceID: e.processInstanceID,
		TenantID:          e.tenantID,
		Created:           cc.Now(),
		Seq:               tree.seq,
	}

	tree.subscriptions[subscription.ID] = subscription

	return subscription
}

// EventSubscriptions returns the subscriptions owned by the execution, oldest first.
// An empty type returns every subscription.
func (e *Execution) EventSubscriptions(subscriptionType SubscriptionType) []*EventSubscription {
	return e.tree.findSubscriptions(func(s *EventSubscription) bool {
		return s.ExecutionID == e.id && (subscriptionType == "" || s.Type == subscriptionType)
	})
}

// DeleteSubscriptionsFor removes the subscriptions of e created for activityID.
func (e *Execution) DeleteSubscriptionsFor(activityID string) {
	e.deleteSubscriptions(func(s *EventSubscription) bool {
		return s.ActivityID == activityID
	})
}

// DeleteSubscription removes a subscription from the tree.
func (t *Tree) DeleteSubscription(id string) {
	delete(t.subscriptions, id)
}

// Subscription returns the subscription with id, or nil.
func (t *Tree) Subscription(id string) *EventSubscription {
	return t.subscriptions[id]
}

// FindSubscriptions returns the subscriptions of a type listening for eventName, oldest first.
func (t *Tree) FindSubscriptions(subscriptionType SubscriptionType, eventName string) []*EventSubscription {
	return t.findSubscriptions(func(s *EventSubscription) bool {
		return s.Type == subscriptionType && s.EventName == eventName
	})
}

// Subscriptions returns every subscription of the tree, oldest first.
func (t *Tree) Subscriptions() []*EventSubscription {
	return t.findSubscriptions(func(*EventSubscription) bool { return true })
}

func (t *Tree) findSubscriptions(match func(*EventSubscription) bool) []*EventSubscription {
	var subscriptions []*EventSubscription

	for _, subscription := range t.subscriptions {
		if match(subscription) {
			subscriptions = append(subscriptions, subscription)
		}
	}

	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].Seq < subscriptions[j].Seq
	})

	return subscriptions
}

func (e *Execution) moveSubscriptions(target *Execution, match func(*EventSubscription) bool) {
	for _, subscription := range e.EventSubscriptions("") {
		if match(subscription) {
			subscription.ExecutionID = target.id
		}
	}
}

func (e *Execution) deleteSubscriptions(match func(*EventSubscription) bool) {
	for _, subscription := range e.EventSubscriptions("") {
		if match(subscription) {
			delete(e.tree.subscriptions, subscription.ID)
		}
	}
}

func isCompensate(s *EventSubscription) bool {
	return s.Type == SubscriptionCompensate
}

func notCompensate(s *EventSubscription) bool {
	return s.Type != SubscriptionCompensate
}
