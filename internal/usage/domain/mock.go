package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MockSource is an in-memory Source for tests and local runs. Unlike real
// sources it reports zero for anything it was not seeded with.
type MockSource struct {
	mu    sync.RWMutex
	slots map[slotKey]uint32
	usage map[usageKey]decimal.Decimal
}

type slotKey struct {
	componentID snowflake.ID
	asOf        time.Time
}

type usageKey struct {
	subscriptionID snowflake.ID
	metricID       string
	dimensions     string
	start          time.Time
	end            time.Time
}

func NewMockSource() *MockSource {
	return &MockSource{
		slots: make(map[slotKey]uint32),
		usage: make(map[usageKey]decimal.Decimal),
	}
}

func (m *MockSource) SetSlots(componentID snowflake.ID, asOf time.Time, count uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slotKey{componentID: componentID, asOf: asOf.UTC()}] = count
}

func (m *MockSource) SetUsage(subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period Period, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[newUsageKey(subscriptionID, metricID, dimensions, period)] = value
}

func (m *MockSource) FetchSlots(_ context.Context, _, _, componentID snowflake.ID, asOf time.Time) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[slotKey{componentID: componentID, asOf: asOf.UTC()}], nil
}

func (m *MockSource) FetchUsage(_ context.Context, _, subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period Period) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.usage[newUsageKey(subscriptionID, metricID, dimensions, period)]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

// FetchUsageBreakdown groups seeded usage recorded for exactly period.
func (m *MockSource) FetchUsageBreakdown(_ context.Context, _, subscriptionID snowflake.ID, metricID string, period Period) ([]DimensionUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DimensionUsage
	for key, value := range m.usage {
		if key.subscriptionID != subscriptionID || key.metricID != metricID || key.dimensions == "" {
			continue
		}
		if !key.start.Equal(period.Start.UTC()) || !key.end.Equal(period.End.UTC()) {
			continue
		}
		out = append(out, DimensionUsage{Dimensions: parseDimensionsKey(key.dimensions), Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		return DimensionsKey(out[i].Dimensions) < DimensionsKey(out[j].Dimensions)
	})
	return out, nil
}

func newUsageKey(subscriptionID snowflake.ID, metricID string, dimensions map[string]string, period Period) usageKey {
	return usageKey{
		subscriptionID: subscriptionID,
		metricID:       metricID,
		dimensions:     DimensionsKey(dimensions),
		start:          period.Start.UTC(),
		end:            period.End.UTC(),
	}
}

// DimensionsKey renders dimension filters in a stable order.
func DimensionsKey(dimensions map[string]string) string {
	if len(dimensions) == 0 {
		return ""
	}
	keys := lo.Keys(dimensions)
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(dimensions[k])
	}
	return b.String()
}

func parseDimensionsKey(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(key, ",") {
		k, v, _ := strings.Cut(pair, "=")
		out[k] = v
	}
	return out
}
