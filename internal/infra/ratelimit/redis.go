package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	domainratelimit "fives-agent/internal/domain/ratelimit"
	metricsinfra "fives-agent/internal/infra/metrics"
)

// RedisLimiter shares the fixed-window counters between agent processes.
// Any Redis error degrades to the in-process fallback.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	limit    int
	window   time.Duration
	fallback domainratelimit.Limiter
	logger   *slog.Logger
	metrics  *metricsinfra.Metrics
}

func NewRedis(client *redis.Client, prefix string, limit int, window time.Duration, fallback domainratelimit.Limiter, logger *slog.Logger, metrics *metricsinfra.Metrics) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		limit:    limit,
		window:   window,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if key == "" || l.limit <= 0 {
		return true, 0
	}
	if l.client == nil {
		return l.fallback.Allow(ctx, key)
	}

	rkey := l.prefix + "rl:" + key
	count, err := l.client.Incr(ctx, rkey).Result()
	if err != nil {
		l.degraded(err)
		return l.fallback.Allow(ctx, key)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, rkey, l.window).Err(); err != nil {
			l.degraded(err)
		}
	}
	if int(count) <= l.limit {
		return true, 0
	}

	ttl, err := l.client.TTL(ctx, rkey).Result()
	if err != nil {
		l.degraded(err)
		return false, remainingDuration(l.window, time.Now().UTC())
	}
	if ttl <= 0 {
		// The counter lost its expiry; without one it would block the key forever.
		_ = l.client.Expire(ctx, rkey, l.window).Err()
		if l.logger != nil {
			l.logger.Warn("redis limiter ttl missing", "key", rkey, "ttl", ttl)
		}
		return false, remainingDuration(l.window, time.Now().UTC())
	}
	return false, ceilDuration(ttl)
}

func (l *RedisLimiter) degraded(err error) {
	if l.logger != nil {
		l.logger.Warn("redis limiter error", "err", err)
	}
	if l.metrics != nil {
		l.metrics.RedisDegraded.WithLabelValues("ratelimit").Inc()
	}
}

func ceilDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

func remainingDuration(window time.Duration, now time.Time) time.Duration {
	ws := int64(window.Seconds())
	if ws <= 0 {
		return time.Second
	}
	rem := ws - (now.Unix() % ws)
	if rem <= 0 {
		rem = 1
	}
	return time.Duration(rem) * time.Second
}
