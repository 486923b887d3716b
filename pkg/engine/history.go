package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukex/bpmnvm/pkg/eventbus"
	"github.com/dukex/bpmnvm/pkg/events"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

func (e *Engine) baseEvent(eventType events.EventType, tenantID, processInstanceID, definitionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:                  uuid.NewString(),
		Type:                eventType,
		Timestamp:           e.clock.Now(),
		TenantID:            tenantID,
		ProcessInstanceID:   processInstanceID,
		ProcessDefinitionID: definitionID,
	}
}

// publish sends event keyed by process instance so consumers see the events of one instance in
// order. Failures are logged; history never fails a committed command.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	err := e.bus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish history event",
			"event_type", event.GetType(),
			"process_instance_id", key,
			"error", err)
	}
}

func (e *Engine) publishHistory(ctx context.Context, tree *pvm.Tree, history []pvm.HistoryEvent, ended map[string]*ProcessInstance) {
	if e.bus == nil {
		return
	}

	for _, record := range history {
		base := events.BaseEvent{
			ID:                  uuid.NewString(),
			Timestamp:           record.Time,
			TenantID:            record.TenantID,
			ProcessInstanceID:   record.ProcessInstanceID,
			ProcessDefinitionID: record.DefinitionID,
		}

		var event eventbus.Event

		switch record.Type {
		case pvm.HistoryProcessStarted:
			base.Type = events.ProcessStartedEvent
			started := events.ProcessStarted{BaseEvent: base}

			if instance := tree.Get(record.ProcessInstanceID); instance != nil {
				started.BusinessKey = instance.BusinessKey()
			} else if snapshot, ok := ended[record.ProcessInstanceID]; ok {
				started.BusinessKey = snapshot.BusinessKey
			}

			event = started
		case pvm.HistoryProcessCompleted:
			base.Type = events.ProcessCompletedEvent
			completed := events.ProcessCompleted{BaseEvent: base}

			if snapshot, ok := ended[record.ProcessInstanceID]; ok {
				completed.Variables = snapshot.Variables
			}

			event = completed
		case pvm.HistoryActivityStarted:
			base.Type = events.ActivityStartedEvent
			event = events.ActivityStarted{BaseEvent: base, ExecutionID: record.ExecutionID, ActivityID: record.ActivityID}
		case pvm.HistoryActivityEnded:
			base.Type = events.ActivityEndedEvent
			event = events.ActivityEnded{BaseEvent: base, ExecutionID: record.ExecutionID, ActivityID: record.ActivityID}
		default:
			continue
		}

		e.publish(ctx, record.ProcessInstanceID, event)
	}
}
