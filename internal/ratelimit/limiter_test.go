// internal/ratelimit/limiter_test.go
package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(NewRedisCounterStore(client), limit), mr
}

func TestLimitBoundary(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 10)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		res, err := limiter.Check(ctx, "user:alice")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 10-i, res.Remaining)
	}

	// The 10th attempt lands exactly on the limit and is still allowed.
	res, err := limiter.Check(ctx, "user:alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// The 11th and every later attempt this month is rejected and must not
	// grow the counter.
	for i := 0; i < 3; i++ {
		res, err = limiter.Check(ctx, "user:alice")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	}

	count, incremented, err := limiter.store.IncrementIfBelow(ctx, "user:alice", limiter.MonthKey(), 0)
	require.NoError(t, err)
	assert.False(t, incremented)
	assert.Equal(t, 10, count, "stored count never exceeds the limit")
}

func TestBucketsAreIndependent(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 10)
	ctx := context.Background()

	_, err := limiter.Check(ctx, "user:alice")
	require.NoError(t, err)

	res, err := limiter.Check(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestNewMonthResetsCount(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 10)
	ctx := context.Background()

	current := time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		res, err := limiter.Check(ctx, "user:bob")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Check(ctx, "user:bob")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Next calendar month: fresh counter.
	current = time.Date(2026, time.February, 1, 0, 30, 0, 0, time.UTC)
	res, err = limiter.Check(ctx, "user:bob")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestMonthKeyIsUTC(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 10)

	loc := time.FixedZone("UTC+13", 13*3600)
	limiter.now = func() time.Time {
		// Local time is already February; UTC is still January.
		return time.Date(2026, time.February, 1, 10, 0, 0, 0, loc)
	}
	assert.Equal(t, "2026-01", limiter.MonthKey())
}

func TestConcurrentChecksNeverExceedLimit(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 10)
	ctx := context.Background()

	allowed := make(chan bool, 25)
	for i := 0; i < 25; i++ {
		go func() {
			res, err := limiter.Check(ctx, "user:carol")
			assert.NoError(t, err)
			allowed <- res.Allowed
		}()
	}

	allowedCount := 0
	for i := 0; i < 25; i++ {
		if <-allowed {
			allowedCount++
		}
	}
	assert.Equal(t, 10, allowedCount)
}
