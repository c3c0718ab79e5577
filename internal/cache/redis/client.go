// Package redis backs the marketplace's shared-state interfaces with
// go-redis/v9: the current-price cache, the per-auction lock leases, the
// bid-admission rate limiter, and the pub/sub signal bus. One Client feeds
// all four.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the Redis connection parameters. MaxRetries covers the
// driver's own command retries; callers see only the final error.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client shared by the cache, lock, limiter, and
// bus types in this package.
type Client struct {
	rdb *redis.Client
}

// New connects and pings before returning, so wiring fails fast when Redis
// is unreachable rather than on the first bid.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping verifies the connection, used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying hands out the raw driver client to the other types in this
// package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
