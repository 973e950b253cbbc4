package domain

import "github.com/shopspring/decimal"

// SubscriptionFee is a Fee narrowed to the single term, slot count or
// capacity tier a subscription committed to.
type SubscriptionFee interface {
	Type() FeeType
	isSubscriptionFee()
}

type SubscriptionRate struct {
	Rate decimal.Decimal `json:"rate"`
}

type SubscriptionSlot struct {
	Unit            string          `json:"unit"`
	UnitRate        decimal.Decimal `json:"unit_rate"`
	MinSlots        *uint32         `json:"min_slots,omitempty"`
	MaxSlots        *uint32         `json:"max_slots,omitempty"`
	InitialSlots    uint32          `json:"initial_slots"`
	UpgradePolicy   UpgradePolicy   `json:"upgrade_policy,omitempty"`
	DowngradePolicy DowngradePolicy `json:"downgrade_policy,omitempty"`
}

// Clamp bounds a measured slot count to the contracted range.
func (s SubscriptionSlot) Clamp(count uint32) uint32 {
	if s.MinSlots != nil && count < *s.MinSlots {
		count = *s.MinSlots
	}
	if s.MaxSlots != nil && count > *s.MaxSlots {
		count = *s.MaxSlots
	}
	return count
}

type SubscriptionCapacity struct {
	MetricID    string          `json:"metric_id"`
	Rate        decimal.Decimal `json:"rate"`
	Included    uint64          `json:"included"`
	OverageRate decimal.Decimal `json:"overage_rate"`
}

type SubscriptionUsage struct {
	MetricID string       `json:"metric_id"`
	Pricing  UsagePricing `json:"pricing"`
}

type SubscriptionRecurring struct {
	Rate        decimal.Decimal `json:"rate"`
	Quantity    uint32          `json:"quantity"`
	BillingType BillingType     `json:"billing_type"`
}

type SubscriptionOneTime struct {
	Rate     decimal.Decimal `json:"rate"`
	Quantity uint32          `json:"quantity"`
}

func (SubscriptionRate) Type() FeeType      { return FeeTypeRate }
func (SubscriptionSlot) Type() FeeType      { return FeeTypeSlot }
func (SubscriptionCapacity) Type() FeeType  { return FeeTypeCapacity }
func (SubscriptionUsage) Type() FeeType     { return FeeTypeUsage }
func (SubscriptionRecurring) Type() FeeType { return FeeTypeExtraRecurring }
func (SubscriptionOneTime) Type() FeeType   { return FeeTypeOneTime }

func (SubscriptionRate) isSubscriptionFee()      {}
func (SubscriptionSlot) isSubscriptionFee()      {}
func (SubscriptionCapacity) isSubscriptionFee()  {}
func (SubscriptionUsage) isSubscriptionFee()     {}
func (SubscriptionRecurring) isSubscriptionFee() {}
func (SubscriptionOneTime) isSubscriptionFee()   {}

// MetricID returns the metered metric behind a fee, if any.
func MetricID(fee SubscriptionFee) string {
	switch f := fee.(type) {
	case SubscriptionCapacity:
		return f.MetricID
	case SubscriptionUsage:
		return f.MetricID
	}
	return ""
}
