package domain

// BillingPeriod is the term a rate is quoted for.
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
	BillingPeriodAnnual    BillingPeriod = "ANNUAL"
	BillingPeriodOneTime   BillingPeriod = "ONE_TIME"
)

// Months returns the term length. One-time periods have no length.
func (p BillingPeriod) Months() int {
	switch p {
	case BillingPeriodMonthly:
		return 1
	case BillingPeriodQuarterly:
		return 3
	case BillingPeriodAnnual:
		return 12
	default:
		return 0
	}
}

func (p BillingPeriod) Valid() bool {
	switch p {
	case BillingPeriodMonthly, BillingPeriodQuarterly, BillingPeriodAnnual, BillingPeriodOneTime:
		return true
	}
	return false
}

// Recurring reports whether the period repeats.
func (p BillingPeriod) Recurring() bool {
	return p.Months() > 0
}

// BillingType says whether a charge is collected at the start or end of its period.
type BillingType string

const (
	BillingTypeAdvance BillingType = "ADVANCE"
	BillingTypeArrear  BillingType = "ARREAR"
)

func (t BillingType) Valid() bool {
	return t == BillingTypeAdvance || t == BillingTypeArrear
}

type UpgradePolicy string

const UpgradePolicyProrated UpgradePolicy = "PRORATED"

type DowngradePolicy string

const DowngradePolicyRemoveAtEndOfPeriod DowngradePolicy = "REMOVE_AT_END_OF_PERIOD"
