package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"production-scheduler/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishBatchFinalized publishes BatchFinalized event
func (ep *EventPublisher) PublishBatchFinalized(ctx context.Context, event *models.BatchFinalizedEvent) error {
	key := fmt.Sprintf("batch-%d", event.BatchID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBatchCompleted publishes BatchCompleted event
func (ep *EventPublisher) PublishBatchCompleted(ctx context.Context, event *models.BatchCompletedEvent) error {
	key := fmt.Sprintf("batch-%d", event.BatchID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishBatchCancelled publishes BatchCancelled event
func (ep *EventPublisher) PublishBatchCancelled(ctx context.Context, event *models.BatchCancelledEvent) error {
	key := fmt.Sprintf("batch-%d", event.BatchID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderCompleted publishes OrderCompleted event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishStallAlert publishes StallAlert event
func (ep *EventPublisher) PublishStallAlert(ctx context.Context, event *models.StallAlertEvent) error {
	key := fmt.Sprintf("batch-%d", event.BatchID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events to registered handlers.
type EventHandler struct {
	onOrderQueued      func(context.Context, *models.OrderQueuedEvent) error
	onInventoryUpdated func(context.Context, *models.InventoryUpdatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderQueued registers a handler for OrderQueued events
func (eh *EventHandler) OnOrderQueued(handler func(context.Context, *models.OrderQueuedEvent) error) {
	eh.onOrderQueued = handler
}

// OnInventoryUpdated registers a handler for InventoryUpdated events
func (eh *EventHandler) OnInventoryUpdated(handler func(context.Context, *models.InventoryUpdatedEvent) error) {
	eh.onInventoryUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeOrderQueued:
		if eh.onOrderQueued != nil {
			var event models.OrderQueuedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderQueued event: %w", err)
			}
			return eh.onOrderQueued(ctx, &event)
		}

	case models.EventTypeInventoryUpdated:
		if eh.onInventoryUpdated != nil {
			var event models.InventoryUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InventoryUpdated event: %w", err)
			}
			return eh.onInventoryUpdated(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
