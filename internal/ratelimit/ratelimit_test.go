package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/heartline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatLimiterDisabledWithoutRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, HeartbeatRate: 1, HeartbeatBurst: 1}}

	limiter, err := NewHeartbeatLimiter(cfg, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowUser(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNilLockerIsUnconfigured(t *testing.T) {
	locker := NewLocker(nil)
	assert.Nil(t, locker)

	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, defaultBucketTTL(5, 50))
	assert.Equal(t, time.Second, defaultBucketTTL(100, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
}

func TestCasts(t *testing.T) {
	assert.EqualValues(t, 1, castToInt(int64(1)))
	assert.EqualValues(t, 3, castToInt("3"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, 0.0, castToFloat(nil))
}
