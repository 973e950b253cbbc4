package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type UsageModel string

const (
	UsageModelPerUnit UsageModel = "PER_UNIT"
	UsageModelTiered  UsageModel = "TIERED"
	UsageModelVolume  UsageModel = "VOLUME"
	UsageModelPackage UsageModel = "PACKAGE"
	UsageModelMatrix  UsageModel = "MATRIX"
)

var (
	ErrUnknownUsageModel   = errors.New("fee_unknown_usage_model")
	ErrNoTiers             = errors.New("fee_has_no_tiers")
	ErrFirstTierNotZero    = errors.New("fee_first_tier_must_start_at_zero")
	ErrTiersNotAscending   = errors.New("fee_tiers_not_ascending")
	ErrInvalidBlockSize    = errors.New("fee_invalid_block_size")
	ErrNoMatrixRates       = errors.New("fee_has_no_matrix_rates")
	ErrDuplicateMatrixRate = errors.New("fee_duplicate_matrix_rate")
)

// TierRow starts a tier at FirstUnit. The tier ends where the next one starts;
// the last tier is unbounded.
type TierRow struct {
	FirstUnit uint64           `json:"first_unit"`
	Rate      decimal.Decimal  `json:"rate"`
	FlatFee   *decimal.Decimal `json:"flat_fee,omitempty"`
	FlatCap   *decimal.Decimal `json:"flat_cap,omitempty"`
}

type PackagePricing struct {
	BlockSize uint64          `json:"block_size"`
	Rate      decimal.Decimal `json:"rate"`
}

type MatrixDimension struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type MatrixRate struct {
	Dimension1   MatrixDimension  `json:"dimension1"`
	Dimension2   *MatrixDimension `json:"dimension2,omitempty"`
	PerUnitPrice decimal.Decimal  `json:"per_unit_price"`
}

// Dimensions returns the row's dimensions as usage filters.
func (m MatrixRate) Dimensions() map[string]string {
	out := map[string]string{m.Dimension1.Key: m.Dimension1.Value}
	if m.Dimension2 != nil {
		out[m.Dimension2.Key] = m.Dimension2.Value
	}
	return out
}

func (m MatrixRate) key() string {
	k := m.Dimension1.Key + "=" + m.Dimension1.Value
	if m.Dimension2 != nil {
		k += "," + m.Dimension2.Key + "=" + m.Dimension2.Value
	}
	return k
}

// UsagePricing selects how a metered quantity turns into an amount. Only the
// fields relevant to Model are read.
type UsagePricing struct {
	Model     UsageModel      `json:"model"`
	Rate      decimal.Decimal `json:"rate"`
	Tiers     []TierRow       `json:"tiers,omitempty"`
	BlockSize *uint64         `json:"block_size,omitempty"`
	Package   *PackagePricing `json:"package,omitempty"`
	Matrix    []MatrixRate    `json:"matrix,omitempty"`
}

func (p UsagePricing) Validate() error {
	switch p.Model {
	case UsageModelPerUnit:
		if p.Rate.IsNegative() {
			return ErrNegativeAmount
		}
	case UsageModelTiered, UsageModelVolume:
		if err := validateTiers(p.Tiers); err != nil {
			return err
		}
		if p.BlockSize != nil && *p.BlockSize == 0 {
			return ErrInvalidBlockSize
		}
	case UsageModelPackage:
		if p.Package == nil || p.Package.BlockSize == 0 {
			return ErrInvalidBlockSize
		}
		if p.Package.Rate.IsNegative() {
			return ErrNegativeAmount
		}
	case UsageModelMatrix:
		if len(p.Matrix) == 0 {
			return ErrNoMatrixRates
		}
		seen := make(map[string]struct{}, len(p.Matrix))
		for _, row := range p.Matrix {
			k := row.key()
			if _, ok := seen[k]; ok {
				return fmt.Errorf("%w: %s", ErrDuplicateMatrixRate, k)
			}
			seen[k] = struct{}{}
			if row.PerUnitPrice.IsNegative() {
				return ErrNegativeAmount
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUsageModel, p.Model)
	}
	return nil
}

func validateTiers(tiers []TierRow) error {
	if len(tiers) == 0 {
		return ErrNoTiers
	}
	if tiers[0].FirstUnit != 0 {
		return ErrFirstTierNotZero
	}
	for i, t := range tiers {
		if i > 0 && t.FirstUnit <= tiers[i-1].FirstUnit {
			return fmt.Errorf("%w: tier %d", ErrTiersNotAscending, i)
		}
		if t.Rate.IsNegative() {
			return ErrNegativeAmount
		}
		if t.FlatFee != nil && t.FlatFee.IsNegative() {
			return ErrNegativeAmount
		}
		if t.FlatCap != nil && t.FlatCap.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}
