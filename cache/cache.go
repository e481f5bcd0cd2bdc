// Package cache provides the cache/stream broker collaborator: idempotency
// key storage with TTL and in-flight request coalescing for externally
// fetched snapshots (spec.md §5, §6).
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the minimal cache/stream broker surface the core consumes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-memory Cache implementation suitable for paper
// trading and tests; production deployments point IdempotencySet at a
// Redis-backed Cache instead (spec.md §6 names REDIS_URL).
type MemoryCache struct {
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]cacheEntry)}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	entry, exists := c.data[key]
	if !exists {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, fmt.Errorf("key expired: %s", key)
	}
	return entry.value, nil
}

// Set stores a value in the cache with a TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.data[key] = cacheEntry{value: value, expiresAt: time.Now().Add(expiration)}
	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	delete(c.data, key)
	return nil
}

// IdempotencyWindow is the minimum TTL spec.md §5 requires for the bias
// pipeline's idempotency keys.
const IdempotencyWindow = 7 * 24 * time.Hour

// IdempotencySet tracks seen keys (e.g. signal fingerprints) with a TTL,
// backing the "idempotency key set" shared resource spec.md §5 describes.
type IdempotencySet struct {
	cache Cache
}

// NewIdempotencySet wraps a Cache as an idempotency key set.
func NewIdempotencySet(cache Cache) *IdempotencySet {
	return &IdempotencySet{cache: cache}
}

// SeenBefore records key if new and reports whether it had already been
// seen within ttl.
func (s *IdempotencySet) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if _, err := s.cache.Get(ctx, key); err == nil {
		return true, nil
	}
	if err := s.cache.Set(ctx, key, []byte{1}, ttl); err != nil {
		return false, fmt.Errorf("failed to record idempotency key: %w", err)
	}
	return false, nil
}
