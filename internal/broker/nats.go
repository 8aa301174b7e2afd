package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

// NATS fans events out over a nats subject.
type NATS struct {
	conn *nats.Conn
	log  *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// DialNATS connects with unlimited reconnects and logs connection changes.
func DialNATS(url string, log *zap.Logger) (*NATS, error) {
	log = logging.OrNop(log)
	nc, err := nats.Connect(url,
		nats.Name("coachconnect-chat"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	return &NATS{conn: nc, log: log}, nil
}

func (n *NATS) Publish(_ context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.conn.Publish(Channel, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(handler Handler) error {
	sub, err := n.conn.Subscribe(Channel, func(msg *nats.Msg) {
		ev, err := decode(msg.Data)
		if err != nil {
			n.log.Warn("dropping undecodable event", zap.Error(err))
			return
		}
		handler(context.Background(), ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", Channel, err)
	}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return nil
}

// Close drains subscriptions and the connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	for _, sub := range n.subs {
		if err := sub.Drain(); err != nil {
			n.log.Warn("nats drain", zap.Error(err))
		}
	}
	n.subs = nil
	n.mu.Unlock()
	return n.conn.Drain()
}
