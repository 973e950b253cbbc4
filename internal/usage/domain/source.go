package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Period is a half-open usage window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Source answers slot and usage queries for pricing. Implementations must
// fail rather than report zero when the backing store is unavailable.
type Source interface {
	FetchSlots(ctx context.Context, tenantID, subscriptionID, componentID snowflake.ID, asOf time.Time) (uint32, error)
	FetchUsage(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period Period) (decimal.Decimal, error)
}

// DimensionUsage is usage aggregated over one distinct set of dimension values.
type DimensionUsage struct {
	Dimensions map[string]string
	Value      decimal.Decimal
}

// BreakdownSource groups a metric's usage by the dimension values recorded
// with it. Matrix pricing uses it to find combinations without a rate.
type BreakdownSource interface {
	FetchUsageBreakdown(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, period Period) ([]DimensionUsage, error)
}
