package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys for domain events.
const (
	RoutingMessageSent    = "chat.message.sent"
	RoutingMessageUpdated = "chat.message.updated"
	RoutingMessageDeleted = "chat.message.deleted"
	RoutingMessagesRead   = "chat.messages.read"
	RoutingWSChats        = "ws_events.chats"
)

type EventEnvelope struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Payload    interface{} `json:"payload"`
}

func NewEnvelope(eventType, eventName string, payload interface{}) EventEnvelope {
	return EventEnvelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent sends the envelope through the configured publisher. Without
// one it does nothing.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, envelope)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
