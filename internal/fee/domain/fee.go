package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type FeeType string

const (
	FeeTypeRate           FeeType = "rate"
	FeeTypeSlot           FeeType = "slot"
	FeeTypeCapacity       FeeType = "capacity"
	FeeTypeUsage          FeeType = "usage"
	FeeTypeExtraRecurring FeeType = "extra_recurring"
	FeeTypeOneTime        FeeType = "one_time"
)

var (
	ErrNoRates            = errors.New("fee_has_no_rates")
	ErrDuplicateTermRate  = errors.New("fee_duplicate_term_rate")
	ErrNoThresholds       = errors.New("fee_has_no_thresholds")
	ErrDuplicateThreshold = errors.New("fee_duplicate_threshold")
	ErrNegativeAmount     = errors.New("fee_negative_amount")
	ErrMissingMetric      = errors.New("fee_missing_metric")
	ErrInvalidPeriod      = errors.New("fee_invalid_billing_period")
	ErrInvalidBillingType = errors.New("fee_invalid_billing_type")
	ErrInvalidSlotBounds  = errors.New("fee_invalid_slot_bounds")
)

// Fee is a contracted pricing term attached to a plan component. The set of
// implementations is closed; see the variants below.
type Fee interface {
	Type() FeeType
	Validate() error
	isFee()
}

// TermRate is the price quoted for one billing term.
type TermRate struct {
	Term  BillingPeriod   `json:"term"`
	Price decimal.Decimal `json:"price"`
}

type RateFee struct {
	Rates []TermRate `json:"rates"`
}

type SlotFee struct {
	Rates           []TermRate      `json:"rates"`
	SlotUnitName    string          `json:"slot_unit_name"`
	UpgradePolicy   UpgradePolicy   `json:"upgrade_policy"`
	DowngradePolicy DowngradePolicy `json:"downgrade_policy"`
	MinimumCount    *uint32         `json:"minimum_count,omitempty"`
	Quota           *uint32         `json:"quota,omitempty"`
}

// CapacityThreshold is one committed-capacity tier, keyed by IncludedAmount.
type CapacityThreshold struct {
	IncludedAmount uint64          `json:"included_amount"`
	Price          decimal.Decimal `json:"price"`
	PerUnitOverage decimal.Decimal `json:"per_unit_overage"`
}

type CapacityFee struct {
	MetricID   string              `json:"metric_id"`
	Thresholds []CapacityThreshold `json:"thresholds"`
}

type UsageFee struct {
	MetricID string       `json:"metric_id"`
	Pricing  UsagePricing `json:"pricing"`
}

type ExtraRecurringFee struct {
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    uint32          `json:"quantity"`
	BillingType BillingType     `json:"billing_type"`
	Cadence     BillingPeriod   `json:"cadence"`
}

type OneTimeFee struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  uint32          `json:"quantity"`
}

func (RateFee) Type() FeeType           { return FeeTypeRate }
func (SlotFee) Type() FeeType           { return FeeTypeSlot }
func (CapacityFee) Type() FeeType       { return FeeTypeCapacity }
func (UsageFee) Type() FeeType          { return FeeTypeUsage }
func (ExtraRecurringFee) Type() FeeType { return FeeTypeExtraRecurring }
func (OneTimeFee) Type() FeeType        { return FeeTypeOneTime }

func (RateFee) isFee()           {}
func (SlotFee) isFee()           {}
func (CapacityFee) isFee()       {}
func (UsageFee) isFee()          {}
func (ExtraRecurringFee) isFee() {}
func (OneTimeFee) isFee()        {}

func (f RateFee) Validate() error {
	return validateTermRates(f.Rates)
}

func (f SlotFee) Validate() error {
	if err := validateTermRates(f.Rates); err != nil {
		return err
	}
	if f.MinimumCount != nil && f.Quota != nil && *f.MinimumCount > *f.Quota {
		return ErrInvalidSlotBounds
	}
	return nil
}

func (f CapacityFee) Validate() error {
	if f.MetricID == "" {
		return ErrMissingMetric
	}
	if len(f.Thresholds) == 0 {
		return ErrNoThresholds
	}
	seen := make(map[uint64]struct{}, len(f.Thresholds))
	for _, t := range f.Thresholds {
		if _, ok := seen[t.IncludedAmount]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateThreshold, t.IncludedAmount)
		}
		seen[t.IncludedAmount] = struct{}{}
		if t.Price.IsNegative() || t.PerUnitOverage.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}

func (f UsageFee) Validate() error {
	if f.MetricID == "" {
		return ErrMissingMetric
	}
	return f.Pricing.Validate()
}

func (f ExtraRecurringFee) Validate() error {
	if f.UnitPrice.IsNegative() {
		return ErrNegativeAmount
	}
	if !f.BillingType.Valid() {
		return ErrInvalidBillingType
	}
	if !f.Cadence.Recurring() {
		return ErrInvalidPeriod
	}
	return nil
}

func (f OneTimeFee) Validate() error {
	if f.UnitPrice.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

func validateTermRates(rates []TermRate) error {
	if len(rates) == 0 {
		return ErrNoRates
	}
	seen := make(map[BillingPeriod]struct{}, len(rates))
	for _, r := range rates {
		if !r.Term.Recurring() {
			return fmt.Errorf("%w: %q", ErrInvalidPeriod, r.Term)
		}
		if _, ok := seen[r.Term]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTermRate, r.Term)
		}
		seen[r.Term] = struct{}{}
		if r.Price.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}
