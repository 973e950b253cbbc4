package domain

import (
	"github.com/smallbiznis/billingcore/internal/errs"
)

const opResolve = "fee.resolve"

// Parameters are the choices a customer makes when binding a parametrized
// component. A nil field means the parameter was not supplied.
type Parameters struct {
	BillingPeriod     *BillingPeriod `json:"billing_period,omitempty"`
	InitialSlots      *uint32        `json:"initial_slots,omitempty"`
	CommittedCapacity *uint64        `json:"committed_capacity,omitempty"`
}

func (p *Parameters) empty() bool {
	return p == nil || (p.BillingPeriod == nil && p.InitialSlots == nil && p.CommittedCapacity == nil)
}

// Resolve narrows fee to the SubscriptionFee selected by params and returns
// the period it bills on. Without parameters the fee must be unambiguous.
func Resolve(fee Fee, params *Parameters) (SubscriptionFee, BillingPeriod, error) {
	if fee == nil {
		return nil, "", errs.InvalidArgument(opResolve, "fee is required")
	}
	if params.empty() {
		return ToSubscriptionFee(fee)
	}

	switch f := fee.(type) {
	case RateFee:
		if params.InitialSlots != nil || params.CommittedCapacity != nil {
			return nil, "", errs.InvalidArgument(opResolve, "unexpected parameters for rate fee")
		}
		rate, err := selectRate(f.Rates, *params.BillingPeriod)
		if err != nil {
			return nil, "", err
		}
		return SubscriptionRate{Rate: rate.Price}, rate.Term, nil

	case SlotFee:
		if params.BillingPeriod == nil {
			return nil, "", errs.InvalidArgument(opResolve, "missing billing period for slot fee")
		}
		if params.CommittedCapacity != nil {
			return nil, "", errs.InvalidArgument(opResolve, "unexpected committed capacity for slot fee")
		}
		rate, err := selectRate(f.Rates, *params.BillingPeriod)
		if err != nil {
			return nil, "", err
		}
		initial := uint32(0)
		switch {
		case params.InitialSlots != nil:
			initial = *params.InitialSlots
		case f.MinimumCount != nil:
			initial = *f.MinimumCount
		}
		return slotFee(f, rate, initial), rate.Term, nil

	case CapacityFee:
		if params.CommittedCapacity == nil {
			return nil, "", errs.InvalidArgument(opResolve, "missing committed capacity")
		}
		if params.BillingPeriod != nil || params.InitialSlots != nil {
			return nil, "", errs.InvalidArgument(opResolve, "unexpected parameters for capacity fee")
		}
		for _, t := range f.Thresholds {
			if t.IncludedAmount == *params.CommittedCapacity {
				return capacityFee(f.MetricID, t), BillingPeriodMonthly, nil
			}
		}
		return nil, "", errs.InvalidArgument(opResolve, "no threshold for committed capacity %d", *params.CommittedCapacity)

	default:
		return nil, "", errs.InvalidArgument(opResolve, "fee type %s cannot be parametrized", fee.Type())
	}
}

// ToSubscriptionFee converts an unparametrized fee. Rate and Slot fees must
// carry exactly one term rate, Capacity fees exactly one threshold.
func ToSubscriptionFee(fee Fee) (SubscriptionFee, BillingPeriod, error) {
	switch f := fee.(type) {
	case RateFee:
		if len(f.Rates) != 1 {
			return nil, "", errs.InvalidArgument(opResolve, "expected a single rate or a parametrized component, found %d", len(f.Rates))
		}
		return SubscriptionRate{Rate: f.Rates[0].Price}, f.Rates[0].Term, nil

	case SlotFee:
		if len(f.Rates) != 1 {
			return nil, "", errs.InvalidArgument(opResolve, "expected a single rate or a parametrized component, found %d", len(f.Rates))
		}
		initial := uint32(0)
		if f.MinimumCount != nil {
			initial = *f.MinimumCount
		}
		return slotFee(f, f.Rates[0], initial), f.Rates[0].Term, nil

	case CapacityFee:
		if len(f.Thresholds) != 1 {
			return nil, "", errs.InvalidArgument(opResolve, "expected a single threshold or a parametrized component, found %d", len(f.Thresholds))
		}
		return capacityFee(f.MetricID, f.Thresholds[0]), BillingPeriodMonthly, nil

	case UsageFee:
		return SubscriptionUsage{MetricID: f.MetricID, Pricing: f.Pricing}, BillingPeriodMonthly, nil

	case ExtraRecurringFee:
		return SubscriptionRecurring{
			Rate:        f.UnitPrice,
			Quantity:    f.Quantity,
			BillingType: f.BillingType,
		}, f.Cadence, nil

	case OneTimeFee:
		return SubscriptionOneTime{Rate: f.UnitPrice, Quantity: f.Quantity}, BillingPeriodOneTime, nil
	}
	return nil, "", errs.InvalidArgument(opResolve, "unsupported fee type %T", fee)
}

func selectRate(rates []TermRate, term BillingPeriod) (TermRate, error) {
	for _, r := range rates {
		if r.Term == term {
			return r, nil
		}
	}
	return TermRate{}, errs.InvalidArgument(opResolve, "rate not found for billing period %s", term)
}

func slotFee(f SlotFee, rate TermRate, initial uint32) SubscriptionSlot {
	return SubscriptionSlot{
		Unit:            f.SlotUnitName,
		UnitRate:        rate.Price,
		MinSlots:        f.MinimumCount,
		MaxSlots:        f.Quota,
		InitialSlots:    initial,
		UpgradePolicy:   f.UpgradePolicy,
		DowngradePolicy: f.DowngradePolicy,
	}
}

func capacityFee(metricID string, t CapacityThreshold) SubscriptionCapacity {
	return SubscriptionCapacity{
		MetricID:    metricID,
		Rate:        t.Price,
		Included:    t.IncludedAmount,
		OverageRate: t.PerUnitOverage,
	}
}
