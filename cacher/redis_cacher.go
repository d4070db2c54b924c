package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 5 * time.Second
	minBackoff  = 10 * time.Millisecond
	maxBackoff  = 250 * time.Millisecond
)

// ErrCacheWaitTimeout is returned when another process holds the fetch lock
// for a key and never publishes a value.
var ErrCacheWaitTimeout = errors.New("cacher: timed out waiting for value")

// unlockScript deletes the lock only if this caller still owns it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCacher is a Cacher shared between server processes through Redis.
// Values are stored as JSON under Prefix+key; a SETNX lock makes one process
// fetch while the others poll for the published value.
type RedisCacher[T any] struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCacher creates a RedisCacher.
//
// Parameters:
//   - client: Connected Redis client
//   - prefix: Namespace prepended to every key (e.g. "chatroom:")
//
// Returns:
//   - A Cacher[T] backed by Redis
func NewRedisCacher[T any](client redis.UniversalClient, prefix string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix}
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	fullKey := c.prefix + key

	v, found, err := c.get(ctx, fullKey)
	if err != nil || found {
		return v, err
	}

	lockKey := fullKey + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("cacher: acquire lock %s: %w", lockKey, err)
	}

	if !acquired {
		return c.wait(ctx, fullKey, lockKey)
	}

	defer func() {
		_ = unlockScript.Run(context.Background(), c.client, []string{lockKey}, token).Err()
	}()

	fetched, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(fetched)
	if err != nil {
		return zero, fmt.Errorf("cacher: marshal %s: %w", fullKey, err)
	}

	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("cacher: set %s: %w", fullKey, err)
	}

	return fetched, nil
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cacher: delete %s: %w", c.prefix+key, err)
	}

	return nil
}

func (c *RedisCacher[T]) get(ctx context.Context, fullKey string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cacher: get %s: %w", fullKey, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("cacher: unmarshal %s: %w", fullKey, err)
	}

	return v, true, nil
}

// wait polls for the value another holder of lockKey is fetching.
func (c *RedisCacher[T]) wait(ctx context.Context, fullKey, lockKey string) (T, error) {
	var zero T

	backoff := minBackoff
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
			return zero, ErrCacheWaitTimeout
		case <-time.After(backoff):
		}

		v, found, err := c.get(ctx, fullKey)
		if err != nil || found {
			return v, err
		}

		held, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("cacher: check lock %s: %w", lockKey, err)
		}
		if held == 0 {
			// The holder may have published between the two reads.
			if v, found, err := c.get(ctx, fullKey); err != nil || found {
				return v, err
			}

			return zero, fmt.Errorf("cacher: %s: fetch by lock holder failed", fullKey)
		}

		backoff = min(backoff*2, maxBackoff)
	}
}
