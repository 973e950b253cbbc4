package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
)

// LineItem is one priced row of an invoice. UnitPrice is in minor units and
// may carry fractional precision; Total is rounded to whole minor units.
type LineItem struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	PriceComponentID *snowflake.ID         `json:"price_component_id,omitempty"`
	MetricID         string                `json:"metric_id,omitempty"`
	Quantity         decimal.Decimal       `json:"quantity"`
	UnitPrice        decimal.Decimal       `json:"unit_price"`
	Total            int64                 `json:"total"`
	Start            time.Time             `json:"start"`
	End              time.Time             `json:"end"`
	BillingType      feedomain.BillingType `json:"billing_type"`
	ProrationFactor  *decimal.Decimal      `json:"proration_factor,omitempty"`
	SubLines         []SubLineItem         `json:"sub_lines,omitempty"`
}

// SubLineItem breaks a line down by tier, block or dimension.
type SubLineItem struct {
	Name       string            `json:"name"`
	Quantity   decimal.Decimal   `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Total      int64             `json:"total"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Totals struct {
	Subtotal int64
	Tax      int64
	Total    int64
}

// ComputeTotals sums line totals. Tax is not computed by the core.
func ComputeTotals(lines []LineItem) Totals {
	subtotal := lo.SumBy(lines, func(l LineItem) int64 { return l.Total })
	return Totals{Subtotal: subtotal, Tax: 0, Total: subtotal}
}

func EncodeLines(lines []LineItem) ([]byte, error) {
	if lines == nil {
		lines = []LineItem{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return nil, errs.Serde("invoice.encode_lines", err)
	}
	return raw, nil
}

func DecodeLines(raw []byte) ([]LineItem, error) {
	if len(raw) == 0 {
		return []LineItem{}, nil
	}
	var lines []LineItem
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, errs.Serde("invoice.decode_lines", err)
	}
	if lines == nil {
		lines = []LineItem{}
	}
	return lines, nil
}
