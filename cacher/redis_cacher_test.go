package cacher

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient connects to CHATROOM_TEST_REDIS (host:port) or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("CHATROOM_TEST_REDIS")
	if addr == "" {
		t.Skip("CHATROOM_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	return client
}

func testPrefix(t *testing.T) string {
	return "chatroom-test:" + t.Name() + ":" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":"
}

func TestRedisCacher_GetOrFetch(t *testing.T) {
	client := redisClient(t)
	c := NewRedisCacher[[]string](client, testPrefix(t))
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Delete(ctx, "roster") })

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

	require.NoError(t, c.Delete(ctx, "roster"))
	_, err = c.GetOrFetch(ctx, "roster", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestRedisCacher_ConcurrentMiss(t *testing.T) {
	client := redisClient(t)
	c := NewRedisCacher[int](client, testPrefix(t))
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Delete(ctx, "count") })

	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 7, nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "count", time.Minute, fetch)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
}
