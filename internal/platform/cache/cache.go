// Package cache connects to the Dragonfly/Redis instance that holds chat
// sessions.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 5 * time.Second
	ioTimeout    = 3 * time.Second
	pingAttempts = 3
)

// Cache wraps a Redis/Dragonfly client.
type Cache struct {
	Client *redis.Client
}

// ParseURL validates a Redis connection URL and applies connection timeouts.
func ParseURL(url string) (*redis.Options, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = ioTimeout
	opts.WriteTimeout = ioTimeout
	return opts, nil
}

// New connects and pings the server, retrying briefly while it starts up.
func New(ctx context.Context, url string) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	var pingErr error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			return &Cache{Client: client}, nil
		}
		select {
		case <-ctx.Done():
			client.Close()
			return nil, fmt.Errorf("pinging cache: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	client.Close()
	return nil, fmt.Errorf("pinging cache at %s: %w", opts.Addr, pingErr)
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache unhealthy: %w", err)
	}
	return nil
}
