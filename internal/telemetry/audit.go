// Package telemetry emits audit records for chat actions to the event
// exchange.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

// Audited chat actions.
const (
	ActionMessageSent      = "chat.message_sent"
	ActionMessageFailed    = "chat.message_failed"
	ActionConversationRead = "chat.conversation_read"
	ActionDebugProbe       = "debug.audit_probe"
)

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Record is one audited action. UserID is the acting user; Attrs carries
// action specific identifiers such as the peer or message id.
type Record struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    string
	Attrs     map[string]string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string            `json:"level"`
	Action string            `json:"action"`
	Text   string            `json:"text,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// AuditEmitter publishes audit_log envelopes under one routing key.
type AuditEmitter struct {
	publisher  Publisher
	routingKey string
	service    string
	env        string
	log        *zap.Logger
	now        func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:  publisher,
		routingKey: routingKey,
		service:    service,
		env:        environment,
		log:        logging.OrNop(log),
		now:        time.Now,
	}
}

// Record publishes rec. It never fails the caller; publish errors are
// logged and dropped.
func (e *AuditEmitter) Record(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.env,
		RequestID:     rec.RequestID,
		Payload: AuditPayload{
			Level:  rec.Level,
			Action: rec.Action,
			Text:   rec.Text,
			Attrs:  rec.Attrs,
		},
	}
	if rec.UserID != "" {
		user := rec.UserID
		envelope.UserID = &user
	}

	var headers map[string]string
	if rec.RequestID != "" {
		headers = map[string]string{"x-request-id": rec.RequestID}
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("audit publish failed",
			zap.String("action", rec.Action),
			zap.String("request_id", rec.RequestID),
			zap.Error(err),
		)
	}
}
