package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	metricsinfra "fives-agent/internal/infra/metrics"
)

// RedisStore keeps the value under a single key without expiry.
type RedisStore struct {
	client  *redis.Client
	key     string
	logger  *slog.Logger
	metrics *metricsinfra.Metrics
}

func NewRedis(client *redis.Client, key string, logger *slog.Logger, metrics *metricsinfra.Metrics) *RedisStore {
	return &RedisStore{client: client, key: key, logger: logger, metrics: metrics}
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	if s.client == nil {
		return nil, errors.New("redis store: client is nil")
	}
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		s.onRedisError(err)
		return nil, err
	}
	return raw, nil
}

func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if s.client == nil {
		return errors.New("redis store: client is nil")
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		s.onRedisError(err)
		return err
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		s.onRedisError(err)
		return err
	}
	return nil
}

func (s *RedisStore) onRedisError(err error) {
	if s.logger != nil {
		s.logger.Warn("last match store redis error", "key", s.key, "err", err)
	}
	if s.metrics != nil {
		s.metrics.RedisDegraded.WithLabelValues("store").Inc()
	}
}
