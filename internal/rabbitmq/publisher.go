// Package rabbitmq publishes JSON envelopes to the shared topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

type Config struct {
	URL      string
	Exchange string
	// DialTimeout bounds the initial connection retries. Zero tries once.
	DialTimeout time.Duration
}

// NewPublisher connects to RabbitMQ. When AMQP is disabled or unreachable
// it returns a publisher that only logs, so the chat path never depends on
// the exchange.
func NewPublisher(cfg Config, log *zap.Logger) Publisher {
	log = logging.OrNop(log).Named("rabbitmq")
	if cfg.URL == "" {
		log.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	p := &amqpPublisher{url: cfg.URL, exchange: cfg.Exchange, log: log}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.DialTimeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = cfg.DialTimeout
		b = eb
	}
	err := backoff.RetryNotify(p.connect, b, func(err error, wait time.Duration) {
		log.Warn("rabbitmq dial failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), log: log}
	}

	log.Info("rabbitmq connected", zap.String("exchange", cfg.Exchange))
	return p
}

type amqpPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// connect dials and declares the exchange. Callers hold mu or own p.
func (p *amqpPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// channel returns an open channel, reconnecting once if the broker dropped
// the previous one.
func (p *amqpPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, amqp.ErrClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.log.Info("rabbitmq channel closed, reconnecting")
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p.ch, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq unavailable", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}

	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, _ any, headers map[string]string) error {
	p.log.Debug("rabbitmq noop publish",
		zap.String("routing_key", routingKey),
		zap.String("request_id", headers["x-request-id"]),
	)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports "amqp" or "noop" for startup logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
