// Package cache wraps go-redis client construction behind a small Config,
// the Redis counterpart to pkg/postgres.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the subset of pkg/config's Redis fields NewClient needs.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Client wraps a *redis.Client so callers can Close it uniformly.
type Client struct {
	Client *redis.Client
}

// NewClient dials Redis and pings it once so connection errors surface at
// startup instead of on the first command.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &Client{Client: rdb}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.Client.Close() }
