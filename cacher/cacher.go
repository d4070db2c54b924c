// Package cacher caches read-mostly snapshots (such as the user roster served
// on the status endpoint) for a short TTL, so bursts of readers trigger one
// fetch instead of one per request.
package cacher

import (
	"context"
	"time"
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T by key. Implementations are safe for
// concurrent use and collapse concurrent misses on one key into a single
// fetch.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, calling fetchFn and caching
	// its result for ttl on a miss. Fetch errors are returned and not cached.
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete drops key so the next GetOrFetch fetches again.
	Delete(ctx context.Context, key string) error
}
