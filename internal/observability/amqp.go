package observability

import (
	"context"

	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

// WSRoutingKey carries connection lifecycle events.
const WSRoutingKey = "ws_events.chats"

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// EventPublisher emits ws_events envelopes and counts failures. A nil
// EventPublisher or one without a publisher only updates metrics.
type EventPublisher struct {
	publisher Publisher
	log       *zap.Logger
}

func NewEventPublisher(publisher Publisher, log *zap.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, log: logging.OrNop(log)}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope, headers map[string]string) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	err := p.publisher.Publish(ctx, routingKey, envelope, headers)
	if err != nil {
		IncAMQPPublishError()
		p.log.Warn("event publish failed", zap.String("routing_key", routingKey), zap.String("event", envelope.EventName), zap.Error(err))
	}
	return err
}

// PublishWS counts a websocket lifecycle event and publishes it.
func (p *EventPublisher) PublishWS(ctx context.Context, payload WSPayload, requestID, traceID string) {
	IncWSEvent(payload.WS.Event)
	_ = p.PublishEvent(ctx, WSRoutingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: payload.WS.Event,
		Payload:   payload,
	}, BuildHeaders(requestID, traceID))
}
