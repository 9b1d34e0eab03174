package university

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/models"
)

// Cache stores detector results per email domain.
type Cache interface {
	Get(ctx context.Context, domain string) (models.ResolvedUniversity, bool, error)
	Set(ctx context.Context, domain string, info models.ResolvedUniversity) error
	Delete(ctx context.Context, domain string) error
}

// MemoryCache is an in-process TTL cache. Expired entries are dropped on read.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  models.ResolvedUniversity
	ts time.Time
}

// NewMemoryCache creates a cache with the provided TTL. A nil now uses
// time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, now: now}
}

func (c *MemoryCache) Get(_ context.Context, domain string) (models.ResolvedUniversity, bool, error) {
	c.mu.RLock()
	e, ok := c.store[domain]
	c.mu.RUnlock()
	if !ok {
		return models.ResolvedUniversity{}, false, nil
	}
	if c.now().Sub(e.ts) >= c.ttl {
		c.mu.Lock()
		delete(c.store, domain)
		c.mu.Unlock()
		return models.ResolvedUniversity{}, false, nil
	}
	return e.v, true, nil
}

func (c *MemoryCache) Set(_ context.Context, domain string, info models.ResolvedUniversity) error {
	c.mu.Lock()
	c.store[domain] = cacheEntry{v: info, ts: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, domain string) error {
	c.mu.Lock()
	delete(c.store, domain)
	c.mu.Unlock()
	return nil
}

// RedisCache shares detector results across server replicas. Entries expire
// through the key TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "university:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, domain string) (models.ResolvedUniversity, bool, error) {
	var info models.ResolvedUniversity
	raw, err := c.client.Get(ctx, c.prefix+domain).Bytes()
	if errors.Is(err, redis.Nil) {
		return info, false, nil
	}
	if err != nil {
		return info, false, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, false, err
	}
	return info, true, nil
}

func (c *RedisCache) Set(ctx context.Context, domain string, info models.ResolvedUniversity) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+domain, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, domain string) error {
	return c.client.Del(ctx, c.prefix+domain).Err()
}
