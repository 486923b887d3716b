package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/bpmnvm/pkg/events"
)

type WatermillEventBus struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		logger:     logger.With("module", "event_bus"),
		publisher:  pub,
		subscriber: sub,
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event keyed by key, usually the process instance id, so a partitioned
// transport keeps the history of one instance in order.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.Metadata.Set(events.TenantIDMetadataKey, event.GetTenantID())

	err = eb.publisher.Publish(events.Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.GetType(), err)
	}

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, tenantIDs ...string) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}

	tenants := make(map[string]struct{}, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		tenants[tenantID] = struct{}{}
	}

	go func() {
		for msg := range messages {
			if eb.dispatch(ctx, msg, tenants) {
				msg.Ack()
			} else {
				msg.Nack()
			}
		}
	}()

	return nil
}

// dispatch reports whether msg is done with. Only handler failures ask for redelivery;
// messages that cannot be decoded would fail the same way again.
func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message, tenants map[string]struct{}) bool {
	tenantID := msg.Metadata.Get(events.TenantIDMetadataKey)

	if len(tenants) > 0 {
		if _, ok := tenants[tenantID]; !ok {
			return true
		}
	}

	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	handler := eb.handler(eventType)
	if handler == nil {
		return true
	}

	logger := eb.logger.With("event_type", eventType, "tenant_id", tenantID, "message_id", msg.UUID)

	event, ok := events.New(eventType).(Event)
	if !ok {
		logger.WarnContext(ctx, "Dropping history event of unknown type")

		return true
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		logger.WarnContext(ctx, "Dropping undecodable history event", "error", err)

		return true
	}

	err = handler(ctx, event)
	if err != nil {
		logger.WarnContext(ctx, "History event handler failed, requesting redelivery", "error", err)

		return false
	}

	return true
}

func (eb *WatermillEventBus) handler(eventType events.EventType) EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if handler, ok := eb.handlers[eventType]; ok {
		return handler
	}

	return eb.handlers[events.AnyEvent]
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
