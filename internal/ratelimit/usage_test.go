package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantbill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageLimiterDisabledAllowsAll(t *testing.T) {
	l, err := NewUsageLimiter(Params{Config: config.Config{}})
	require.NoError(t, err)
	require.Nil(t, l)

	res, err := l.AllowTenant(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUsageLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, UsageRate: 1, UsageBurst: 1}}
	_, err := NewUsageLimiter(Params{Config: cfg})
	assert.ErrorIs(t, err, ErrRedisRequired)
}

func TestUsageLimiterEnforcesBurstPerTenant(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, UsageRate: 0.001, UsageBurst: 2}}
	l, err := NewUsageLimiter(Params{Config: cfg, Redis: client})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.AllowTenant(ctx, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}

	res, err := l.AllowTenant(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = l.AllowTenant(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(5, 10))
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
}
