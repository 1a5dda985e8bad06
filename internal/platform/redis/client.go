// Package redis owns the process's shared go-redis client. It backs the
// redis notification sink and contributes a /healthz probe.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"passgate/internal/platform/config"
	dErrors "passgate/pkg/domain-errors"
)

type Client struct {
	*redis.Client
}

// New parses cfg.URL, applies pool and timeout overrides and pings the
// server. An empty URL means redis is not configured: New returns nil, nil.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyOverrides(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// applyOverrides keeps the URL's values for any zero field.
func applyOverrides(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "redis unreachable")
	}
	return nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
