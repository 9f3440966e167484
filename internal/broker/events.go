package broker

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderly-service/internal/models"
	"orderly-service/internal/util"
)

// EventPublisher puts notification events on the notification topic
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Enqueue publishes event keyed by its entity, so the events of one order
// or link are consumed in the order they were emitted
func (ep *EventPublisher) Enqueue(ctx context.Context, event models.NotificationEvent) error {
	key := fmt.Sprintf("%s-%s", event.EntityKind, event.EntityID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// DecodeNotification parses a notification event message
func DecodeNotification(msg kafka.Message) (models.NotificationEvent, error) {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal notification event: %w", err)
	}
	if event.Type == "" || event.RecipientUserID == "" {
		return event, fmt.Errorf("notification event %q is missing type or recipient", event.EventID)
	}
	return event, nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onNotification func(context.Context, models.NotificationEvent)
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnNotification registers a handler for notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, models.NotificationEvent)) {
	eh.onNotification = handler
}

// HandleMessage decodes a message and routes it to the registered handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := DecodeNotification(msg)
	if err != nil {
		return err
	}

	eh.logger.Debug("Handling event",
		zap.String("type", event.Type),
		zap.String("event_id", event.EventID),
		zap.String("entity_id", event.EntityID))

	if eh.onNotification == nil {
		eh.logger.Warn("Unhandled event type", zap.String("type", event.Type))
		return nil
	}
	eh.onNotification(ctx, event)
	return nil
}
