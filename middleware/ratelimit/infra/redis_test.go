package infra

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func integrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisLimiter_UnreachableIsNotEnforced(t *testing.T) {
	l := NewRedisLimiter(unreachableRedis(t), WithRedisTimeout(500*time.Millisecond))

	_, err := l.TryConsume(context.Background(), "k", domain.DefaultLimits(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))

	dec := l.Consume(context.Background(), "k", domain.DefaultLimits(), 1)
	assert.False(t, dec.Enforced)
	assert.Equal(t, domain.BackendRedis, dec.Backend)
}

func TestRedisLimiter_NilClient(t *testing.T) {
	l := NewRedisLimiter(nil)
	dec := l.Consume(context.Background(), "k", domain.DefaultLimits(), 1)
	assert.False(t, dec.Enforced)
}

func TestRedisLimiter_NonPositiveCostSkipsRedis(t *testing.T) {
	l := NewRedisLimiter(unreachableRedis(t))
	dec, err := l.TryConsume(context.Background(), "k", domain.DefaultLimits(), 0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestParseLuaResult(t *testing.T) {
	allowed, retry, err := parseLuaResult([]interface{}{int64(0), int64(30)})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(30), retry)

	allowed, _, err = parseLuaResult([]interface{}{int64(1), "0"})
	require.NoError(t, err)
	assert.True(t, allowed)

	_, _, err = parseLuaResult("nope")
	assert.Error(t, err)

	_, _, err = parseLuaResult([]interface{}{1.5, int64(0)})
	assert.Error(t, err)
}

func TestRedisLimiter_Integration_MinuteThenHour(t *testing.T) {
	rdb := integrationRedis(t)
	clock := newFakeClock()
	l := NewRedisLimiter(rdb, WithRedisClock(clock.Now))
	key := domain.Key("test:" + uuid.NewString())
	t.Cleanup(func() { rdb.Del(context.Background(), string(key)) })

	limits := domain.Limits{PerMinute: 2, PerHour: 3}
	ctx := context.Background()

	require.True(t, l.Consume(ctx, key, limits, 1).Allowed)
	require.True(t, l.Consume(ctx, key, limits, 1).Allowed)

	dec := l.Consume(ctx, key, limits, 1)
	require.False(t, dec.Allowed)
	assert.True(t, dec.Enforced)
	assert.Equal(t, 30*time.Second, dec.RetryAfter)

	clock.Advance(61 * time.Second)
	require.True(t, l.Consume(ctx, key, limits, 1).Allowed)
	dec = l.Consume(ctx, key, limits, 1)
	require.False(t, dec.Allowed)
	assert.Greater(t, dec.RetryAfter, 15*time.Minute)

	ttl, err := rdb.TTL(ctx, string(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
}

func TestRedisLimiter_Integration_RetryAfterDecreases(t *testing.T) {
	rdb := integrationRedis(t)
	clock := newFakeClock()
	l := NewRedisLimiter(rdb, WithRedisClock(clock.Now))
	key := domain.Key("test:" + uuid.NewString())
	t.Cleanup(func() { rdb.Del(context.Background(), string(key)) })

	limits := domain.Limits{PerMinute: 2, PerHour: 100}
	ctx := context.Background()

	require.True(t, l.Consume(ctx, key, limits, 2).Allowed)
	first := l.Consume(ctx, key, limits, 1)
	require.False(t, first.Allowed)
	assert.Equal(t, 30*time.Second, first.RetryAfter)
	assert.Equal(t, 2, first.LimitPerMinute)
	assert.Equal(t, 100, first.LimitPerHour)

	clock.Advance(10 * time.Second)
	second := l.Consume(ctx, key, limits, 1)
	require.False(t, second.Allowed)
	assert.Equal(t, 20*time.Second, second.RetryAfter)
}

func TestRedisLimiter_Integration_Concurrent(t *testing.T) {
	rdb := integrationRedis(t)
	l := NewRedisLimiter(rdb)
	key := domain.Key("test:" + uuid.NewString())
	t.Cleanup(func() { rdb.Del(context.Background(), string(key)) })

	limits := domain.Limits{PerMinute: 10, PerHour: 1000}

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Consume(context.Background(), key, limits, 1).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed.Load())
}
