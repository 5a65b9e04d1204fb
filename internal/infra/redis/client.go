package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"fives-agent/internal/config"
)

const pingTimeout = 2 * time.Second

// Client wraps the shared go-redis client. Every component that uses Redis
// degrades to an in-process alternative when Ping fails.
type Client struct {
	Redis  *redis.Client
	Prefix string
}

// New returns nil when Redis is disabled in the configuration.
func New(cfg config.RedisConfig) *Client {
	if !cfg.Enabled {
		return nil
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Redis: cli, Prefix: cfg.KeyPrefix}
}

// Key prefixes name with the configured namespace.
func (c *Client) Key(name string) string {
	if c == nil {
		return name
	}
	return c.Prefix + name
}

func (c *Client) Ping(ctx context.Context, logger *slog.Logger) bool {
	if c == nil || c.Redis == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		if logger != nil {
			logger.Warn("redis ping failed", "addr", c.Redis.Options().Addr, "err", err)
		}
		return false
	}
	return true
}

func (c *Client) Close() error {
	if c == nil || c.Redis == nil {
		return nil
	}
	return c.Redis.Close()
}
