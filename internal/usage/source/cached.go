package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/errs"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
)

const (
	defaultSlotTTL = 30 * time.Second
	keySlots       = "billingcore:usage:slots:%d:%d:%d:%s"
)

var errBreakdownUnsupported = errors.New("usage_breakdown_unsupported")

// CachedSource caches slot counts in Redis for a short TTL. Usage totals are
// always read through. Cache failures fall back to the wrapped source.
type CachedSource struct {
	next   usagedomain.Source
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedSource(next usagedomain.Source, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = defaultSlotTTL
	}
	return &CachedSource{next: next, client: client, ttl: ttl, log: log.Named("usage.cache")}
}

func (c *CachedSource) FetchSlots(ctx context.Context, tenantID, subscriptionID, componentID snowflake.ID, asOf time.Time) (uint32, error) {
	key := fmt.Sprintf(keySlots, tenantID, subscriptionID, componentID, asOf.UTC().Format(time.RFC3339))

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, perr := strconv.ParseUint(cached, 10, 32); perr == nil {
			return uint32(n), nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("usage.cache.read_failed", zap.String("key", key), zap.Error(err))
	}

	count, err := c.next.FetchSlots(ctx, tenantID, subscriptionID, componentID, asOf)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, strconv.FormatUint(uint64(count), 10), c.ttl).Err(); err != nil {
		c.log.Warn("usage.cache.write_failed", zap.String("key", key), zap.Error(err))
	}
	return count, nil
}

func (c *CachedSource) FetchUsage(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period usagedomain.Period) (decimal.Decimal, error) {
	return c.next.FetchUsage(ctx, tenantID, subscriptionID, metricID, dimensions, period)
}

func (c *CachedSource) FetchUsageBreakdown(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, period usagedomain.Period) ([]usagedomain.DimensionUsage, error) {
	breakdown, ok := c.next.(usagedomain.BreakdownSource)
	if !ok {
		return nil, errs.Internal("usage.fetch_usage_breakdown", errBreakdownUnsupported)
	}
	return breakdown.FetchUsageBreakdown(ctx, tenantID, subscriptionID, metricID, period)
}
