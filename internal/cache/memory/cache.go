// Package memory implements crawler.URLCache in process memory.
package memory

import (
	"context"
	"sync"
)

// Cache is a mutex-guarded string set.
type Cache struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{set: make(map[string]struct{})}
}

func (c *Cache) IsMember(_ context.Context, url string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set[url]
	return ok, nil
}

func (c *Cache) Add(ctx context.Context, url string) error {
	_, err := c.AddMany(ctx, []string{url})
	return err
}

func (c *Cache) AddMany(_ context.Context, urls []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added int64
	for _, u := range urls {
		if _, ok := c.set[u]; ok {
			continue
		}
		c.set[u] = struct{}{}
		added++
	}
	return added, nil
}

func (c *Cache) Count(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.set)), nil
}

func (c *Cache) Close() error { return nil }
