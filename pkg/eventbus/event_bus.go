// Package eventbus publishes and consumes history events over a watermill pub/sub.
package eventbus

import (
	"context"

	"github.com/dukex/bpmnvm/pkg/events"
)

// Event is a history event. It belongs to the tenant of its process instance.
type Event interface {
	GetType() events.EventType
	GetTenantID() string
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	// Handle registers the handler of eventType. The handler of events.AnyEvent receives the
	// types nobody else handles.
	Handle(eventType events.EventType, handler EventHandler) error

	// Subscribe starts delivering events. Given tenants, events of other tenants are skipped.
	Subscribe(ctx context.Context, tenantIDs ...string) error
}

type EventHandler func(ctx context.Context, event Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
