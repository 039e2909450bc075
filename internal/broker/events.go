package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"delivery-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// Notification fan-out topics. Milestone events are duplicated onto the
// audience topics on top of the internal order-events stream.
const (
	TopicStore    = "store"
	TopicDelivery = "delivery"
)

// UserTopic returns the per-customer notification topic
func UserTopic(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

// Notifier publishes domain events to the internal order-events topic and
// fans milestones out to the audience topics.
type Notifier struct {
	producer   *Producer
	orderTopic string
}

// NewNotifier creates a new notifier
func NewNotifier(producer *Producer, orderTopic string) *Notifier {
	return &Notifier{producer: producer, orderTopic: orderTopic}
}

// PublishOrderCreated publishes OrderCreated to the internal stream and
// notifies the store and delivery pools of the new order.
func (n *Notifier) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	if err := n.producer.PublishEvent(ctx, n.orderTopic, key, event); err != nil {
		return err
	}
	n.fanOut(ctx, key, event, TopicStore, TopicDelivery)
	return nil
}

// PublishOrderAssigned publishes OrderAssigned and notifies the customer
func (n *Notifier) PublishOrderAssigned(ctx context.Context, event *models.OrderAssignedEvent, userID string) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	if err := n.producer.PublishEvent(ctx, n.orderTopic, key, event); err != nil {
		return err
	}
	n.fanOut(ctx, key, event, UserTopic(userID))
	return nil
}

// PublishOrderStatusChanged publishes a lifecycle transition and notifies
// the customer.
func (n *Notifier) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	if err := n.producer.PublishEvent(ctx, n.orderTopic, key, event); err != nil {
		return err
	}
	n.fanOut(ctx, key, event, UserTopic(event.UserID))
	return nil
}

// PublishLocationUpdated publishes a partner location ping onto the internal
// stream; the route worker consumes it.
func (n *Notifier) PublishLocationUpdated(ctx context.Context, event *models.LocationUpdatedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return n.producer.PublishEvent(ctx, n.orderTopic, key, event)
}

// PublishPaymentReceived publishes PaymentReceived and fans out to the
// store, delivery and customer topics.
func (n *Notifier) PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	if err := n.producer.PublishEvent(ctx, n.orderTopic, key, event); err != nil {
		return err
	}
	n.fanOut(ctx, key, event, TopicStore, TopicDelivery, UserTopic(event.UserID))
	return nil
}

// PublishPaymentFailed publishes PaymentFailed and notifies the customer
func (n *Notifier) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	if err := n.producer.PublishEvent(ctx, n.orderTopic, key, event); err != nil {
		return err
	}
	n.fanOut(ctx, key, event, UserTopic(event.UserID))
	return nil
}

// fanOut is best-effort: notification delivery never fails the caller
func (n *Notifier) fanOut(ctx context.Context, key string, event interface{}, topics ...string) {
	for _, topic := range topics {
		if err := n.producer.PublishEvent(ctx, topic, key, event); err != nil {
			log.Printf("Fan-out to topic %s failed: %v", topic, err)
		}
	}
}

// EventHandler routes incoming order-events messages to registered handlers
type EventHandler struct {
	onOrderCreated    func(context.Context, *models.OrderCreatedEvent) error
	onOrderAssigned   func(context.Context, *models.OrderAssignedEvent) error
	onLocationUpdated func(context.Context, *models.LocationUpdatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderAssigned registers a handler for OrderAssigned events
func (eh *EventHandler) OnOrderAssigned(handler func(context.Context, *models.OrderAssignedEvent) error) {
	eh.onOrderAssigned = handler
}

// OnLocationUpdated registers a handler for LocationUpdated events
func (eh *EventHandler) OnLocationUpdated(handler func(context.Context, *models.LocationUpdatedEvent) error) {
	eh.onLocationUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderAssigned:
		if eh.onOrderAssigned != nil {
			var event models.OrderAssignedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderAssigned event: %w", err)
			}
			return eh.onOrderAssigned(ctx, &event)
		}

	case models.EventTypeLocationUpdated:
		if eh.onLocationUpdated != nil {
			var event models.LocationUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal LocationUpdated event: %w", err)
			}
			return eh.onLocationUpdated(ctx, &event)
		}

	default:
		// Milestone events on this stream have no worker-side handler
	}

	return nil
}
