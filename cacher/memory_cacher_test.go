package cacher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c := NewMemoryCacher[[]string](cache.NoExpiration, time.Minute)

		fetches := 0
		fetch := func(context.Context) ([]string, error) {
			fetches++
			return []string{"alice", "bob"}, nil
		}

		got, err := c.GetOrFetch(ctx, "roster", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, got)

		got, err = c.GetOrFetch(ctx, "roster", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, got)
		assert.Equal(t, 1, fetches)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("fetch errors are not cached", func(t *testing.T) {
		c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)

		_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "", assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		got, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) {
			return "fresh", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	})

	t.Run("entries expire", func(t *testing.T) {
		c := NewMemoryCacher[int](cache.NoExpiration, time.Minute)

		var n int
		fetch := func(context.Context) (int, error) {
			n++
			return n, nil
		}

		first, err := c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
		require.NoError(t, err)
		assert.Equal(t, 1, first)

		time.Sleep(40 * time.Millisecond)

		second, err := c.GetOrFetch(ctx, "k", 20*time.Millisecond, fetch)
		require.NoError(t, err)
		assert.Equal(t, 2, second)
	})
}

func TestMemoryCacher_SingleFlight(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var fetches atomic.Int32
	fetch := func(context.Context) (string, error) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "shared", nil
	}

	const concurrency = 10
	var wg sync.WaitGroup
	results := make([]string, concurrency)
	errs := make([]error, concurrency)

	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, "roster", time.Minute, fetch)
		}()
	}
	wg.Wait()

	for i := range concurrency {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestMemoryCacher_Delete(t *testing.T) {
	c := NewMemoryCacher[string](cache.NoExpiration, time.Minute)
	ctx := context.Background()

	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) { return "old", nil })
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.Zero(t, c.Len())

	got, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (string, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, "new", got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.Delete(cancelled, "k"), context.Canceled)
}

func TestCacherImplementations(t *testing.T) {
	var _ Cacher[string] = (*MemoryCacher[string])(nil)
	var _ Cacher[string] = (*RedisCacher[string])(nil)
}
