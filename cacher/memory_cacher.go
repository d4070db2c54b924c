package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is an in-process Cacher backed by go-cache.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates a MemoryCacher.
//
// Parameters:
//   - defaultExpiration: TTL used when GetOrFetch is given ttl == 0
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - A Cacher[T] backed by process memory
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{
		cache: cache.New(defaultExpiration, cleanupInterval),
	}
}

// GetOrFetch implements Cacher.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled the entry while we waited on the group.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		c.cache.Set(key, fetched, ttl)
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("cacher: unexpected type %T for key %s", val, key)
	}

	return typed, nil
}

// Delete implements Cacher.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// Len returns the number of entries, expired ones included until cleanup.
func (c *MemoryCacher[T]) Len() int {
	return c.cache.ItemCount()
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	var zero T

	raw, found := c.cache.Get(key)
	if !found {
		return zero, false
	}

	v, ok := raw.(T)
	return v, ok
}
