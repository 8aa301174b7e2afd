// Package ratelimit throttles sends per user with a redis INCR + EXPIRE
// fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coachconnect-chat/internal/logging"
)

// Rule is a key prefix plus the number of actions allowed per window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// MessageRule builds the per-sender send rule.
func MessageRule(limit int, window time.Duration) Rule {
	return Rule{Key: "rl:chat:send:", Limit: limit, Window: window}
}

type Limiter struct {
	client *redis.Client
	rule   Rule
	log    *zap.Logger
}

func New(client *redis.Client, rule Rule, log *zap.Logger) *Limiter {
	return &Limiter{client: client, rule: rule, log: logging.OrNop(log)}
}

// Allow counts one action for identifier. Redis failures fail open and are
// returned alongside true.
func (l *Limiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("rate limit incr failed, allowing", zap.String("key", key), zap.Error(err))
		return true, fmt.Errorf("ratelimit incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			l.log.Warn("rate limit expire failed, allowing", zap.String("key", key), zap.Error(err))
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	return int(count) <= l.rule.Limit, nil
}

// Remaining returns how many actions identifier has left in the window.
func (l *Limiter) Remaining(ctx context.Context, identifier string) (int, error) {
	count, err := l.client.Get(ctx, l.rule.Key+identifier).Int()
	if err == redis.Nil {
		return l.rule.Limit, nil
	}
	if err != nil {
		return l.rule.Limit, fmt.Errorf("ratelimit get: %w", err)
	}
	if remaining := l.rule.Limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
