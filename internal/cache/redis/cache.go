// Package redis implements crawler.URLCache as a Redis set.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKey names the set of captured URLs.
const DefaultKey = "processed_urls"

// Config controls the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Cache stores captured URLs in a single Redis set.
type Cache struct {
	client goredis.UniversalClient
	key    string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, key string) *Cache {
	if key == "" {
		key = DefaultKey
	}
	return &Cache{client: client, key: key}
}

// IsMember runs SISMEMBER.
func (c *Cache) IsMember(ctx context.Context, url string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.key, url).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", c.key, err)
	}
	return ok, nil
}

// Add runs SADD for one URL.
func (c *Cache) Add(ctx context.Context, url string) error {
	if err := c.client.SAdd(ctx, c.key, url).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", c.key, err)
	}
	return nil
}

// AddMany runs one SADD for all urls and returns how many were new.
func (c *Cache) AddMany(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	members := make([]any, len(urls))
	for i, u := range urls {
		members[i] = u
	}
	added, err := c.client.SAdd(ctx, c.key, members...).Result()
	if err != nil {
		return 0, fmt.Errorf("sadd %s: %w", c.key, err)
	}
	return added, nil
}

// Count runs SCARD.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	n, err := c.client.SCard(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", c.key, err)
	}
	return n, nil
}

// Close closes the client.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
