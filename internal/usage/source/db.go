// Package source implements usage.Source over the usage and slot tables.
package source

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/errs"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
)

type DBSource struct {
	db *gorm.DB
}

func NewDBSource(db *gorm.DB) *DBSource {
	return &DBSource{db: db}
}

// FetchSlots sums slot transactions effective on or before asOf. A negative
// running total is reported as zero.
func (s *DBSource) FetchSlots(ctx context.Context, tenantID, subscriptionID, componentID snowflake.ID, asOf time.Time) (uint32, error) {
	var total int64
	row := s.db.WithContext(ctx).
		Model(&usagedomain.SlotTransaction{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("tenant_id = ? AND subscription_id = ? AND component_id = ? AND effective_at <= ?",
			tenantID, subscriptionID, componentID, asOf.UTC()).
		Row()
	if err := row.Scan(&total); err != nil {
		return 0, errs.FromContext("usage.fetch_slots", err)
	}
	return uint32(lo.Max([]int64{total, 0})), nil
}

// FetchUsage sums metered values recorded within period, restricted to events
// carrying every requested dimension value.
func (s *DBSource) FetchUsage(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period usagedomain.Period) (decimal.Decimal, error) {
	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Select("COALESCE(SUM(value), 0)").
		Where("tenant_id = ? AND subscription_id = ? AND metric_id = ? AND recorded_at >= ? AND recorded_at < ?",
			tenantID, subscriptionID, metricID, period.Start.UTC(), period.End.UTC())
	for key, value := range dimensions {
		query = query.Where(datatypes.JSONQuery("dimensions").Equals(value, key))
	}

	var total decimal.NullDecimal
	if err := query.Row().Scan(&total); err != nil {
		return decimal.Zero, errs.FromContext("usage.fetch_usage", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

type dimensionTotal struct {
	Dimensions datatypes.JSONMap
	Total      decimal.Decimal
}

// FetchUsageBreakdown sums usage per distinct dimension set. Events recorded
// without dimensions are reported under an empty set.
func (s *DBSource) FetchUsageBreakdown(ctx context.Context, tenantID, subscriptionID snowflake.ID, metricID string, period usagedomain.Period) ([]usagedomain.DimensionUsage, error) {
	var rows []dimensionTotal
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Select("dimensions, COALESCE(SUM(value), 0) AS total").
		Where("tenant_id = ? AND subscription_id = ? AND metric_id = ? AND recorded_at >= ? AND recorded_at < ?",
			tenantID, subscriptionID, metricID, period.Start.UTC(), period.End.UTC()).
		Group("dimensions").
		Scan(&rows).Error
	if err != nil {
		return nil, errs.FromContext("usage.fetch_usage_breakdown", err)
	}

	merged := make(map[string]*usagedomain.DimensionUsage, len(rows))
	for _, row := range rows {
		dims := make(map[string]string, len(row.Dimensions))
		for k, v := range row.Dimensions {
			if str, ok := v.(string); ok {
				dims[k] = str
			}
		}
		key := usagedomain.DimensionsKey(dims)
		if existing, ok := merged[key]; ok {
			existing.Value = existing.Value.Add(row.Total)
			continue
		}
		merged[key] = &usagedomain.DimensionUsage{Dimensions: dims, Value: row.Total}
	}

	keys := lo.Keys(merged)
	sort.Strings(keys)
	return lo.Map(keys, func(k string, _ int) usagedomain.DimensionUsage { return *merged[k] }), nil
}
