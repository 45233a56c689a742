//go:build integration

package sequence

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisCounterSeedAndIncrement(t *testing.T) {
	rdb := redisForTest(t)
	ns := "test:" + uuid.NewString()
	key := func(groupType string) string { return ns + ":" + groupType }
	t.Cleanup(func() { rdb.Del(context.Background(), key("distribution")) })

	c := NewRedisCounter(rdb, key, zap.NewNop())
	require.NoError(t, c.Seed(context.Background(), "distribution", 41))
	// повторный seed не сбрасывает счетчик
	require.NoError(t, c.Seed(context.Background(), "distribution", 0))

	n, err := c.Increment(context.Background(), "distribution")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestRedisCounterConcurrentUnique(t *testing.T) {
	rdb := redisForTest(t)
	ns := "test:" + uuid.NewString()
	key := func(groupType string) string { return ns + ":" + groupType }
	t.Cleanup(func() { rdb.Del(context.Background(), key("security")) })

	g := NewGenerator(Config{}, NewRedisCounter(rdb, key, zap.NewNop()))

	var (
		mu   sync.Mutex
		seen = map[string]struct{}{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := g.Next(context.Background(), "security")
			assert.NoError(t, err)
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
