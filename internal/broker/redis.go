package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

// Redis fans events out over a redis pub/sub channel.
type Redis struct {
	client *redis.Client
	log    *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: logging.OrNop(log)}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe starts a listener goroutine that runs until Close.
func (r *Redis) Subscribe(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe %s: %w", Channel, err)
	}
	r.subs = append(r.subs, pubsub)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range pubsub.Channel() {
			ev, err := decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("dropping undecodable event", zap.Error(err))
				continue
			}
			handler(ctx, ev)
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	r.wg.Wait()
	return nil
}
