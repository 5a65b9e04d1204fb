// Package redislock is a single-instance Redis lock with owner tokens.
package redislock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	metricsinfra "fives-agent/internal/infra/metrics"
)

const defaultTTL = 15 * time.Second

var ErrUnavailable = errors.New("redis lock unavailable")

// Only the owner may delete the lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client  *redis.Client
	prefix  string
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func New(client *redis.Client, prefix string, logger *slog.Logger, metrics *metricsinfra.Metrics) *Locker {
	return &Locker{client: client, prefix: prefix, logger: logger, metrics: metrics}
}

// Acquire returns the owner token and ok=false when someone else holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrUnavailable
	}
	if key == "" {
		return "", false, errors.New("empty lock key")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		l.degraded(err)
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil {
		l.degraded(err)
		return err
	}
	return nil
}

func (l *Locker) degraded(err error) {
	if l.logger != nil {
		l.logger.Warn("redis lock error", "err", err)
	}
	if l.metrics != nil {
		l.metrics.RedisDegraded.WithLabelValues("lock").Inc()
	}
}
