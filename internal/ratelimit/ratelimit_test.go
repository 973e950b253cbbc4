package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/config"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "k", 0.001, 2)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}
	res, err := bucket.Allow(ctx, "k", 0.001, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}

func TestTokenBucketRejectsBadArguments(t *testing.T) {
	_, client := newClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidBurst)

	var unset *TokenBucket
	_, err = unset.Allow(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIssueThrottlePerProvider(t *testing.T) {
	_, client := newClient(t)
	cfg := config.DefaultWorkerConfig()
	cfg.IssueRate = 0.001
	cfg.IssueBurst = 1
	throttle := NewIssueThrottle(Params{Log: zap.NewNop(), Redis: client, Workers: config.NewStaticWorkerConfigHolder(cfg)})
	ctx := context.Background()

	ok, _ := throttle.Allow(ctx, "manual")
	assert.True(t, ok)
	ok, wait := throttle.Allow(ctx, "manual")
	assert.False(t, ok)
	assert.Positive(t, wait)

	ok, _ = throttle.Allow(ctx, "stripe")
	assert.True(t, ok, "buckets are per provider")
}

func TestIssueThrottleWithoutRedisAllows(t *testing.T) {
	throttle := NewIssueThrottle(Params{Log: zap.NewNop(), Workers: config.NewStaticWorkerConfigHolder(config.DefaultWorkerConfig())})
	ok, _ := throttle.Allow(context.Background(), "manual")
	assert.True(t, ok)

	var none *IssueThrottle
	ok, _ = none.Allow(context.Background(), "manual")
	assert.True(t, ok)
}

func TestIssueThrottleFailsOpen(t *testing.T) {
	mr, client := newClient(t)
	throttle := NewIssueThrottle(Params{Log: zap.NewNop(), Redis: client, Workers: config.NewStaticWorkerConfigHolder(config.DefaultWorkerConfig())})
	mr.Close()

	ok, _ := throttle.Allow(context.Background(), "manual")
	assert.True(t, ok)
}
