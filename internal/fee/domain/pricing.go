package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/smallbiznis/billingcore/internal/errs"
)

// TierCharge is the portion of a quantity billed within one tier.
type TierCharge struct {
	FirstUnit uint64
	// LastUnit is exclusive; nil for the open-ended last tier.
	LastUnit *uint64
	Units    decimal.Decimal
	Rate     decimal.Decimal
	FlatFee  decimal.Decimal
	Amount   decimal.Decimal
}

// RoundUpToBlock rounds qty up to the next multiple of blockSize.
func RoundUpToBlock(qty decimal.Decimal, blockSize *uint64) decimal.Decimal {
	if blockSize == nil || *blockSize <= 1 || qty.Sign() <= 0 {
		return qty
	}
	block := fromUint(*blockSize)
	return qty.Div(block).Ceil().Mul(block)
}

// TieredCharges bills qty incrementally across tiers and returns one charge per
// tier touched plus their sum. Tiers must be ascending and start at zero.
func TieredCharges(tiers []TierRow, qty decimal.Decimal, blockSize *uint64) ([]TierCharge, decimal.Decimal) {
	qty = RoundUpToBlock(qty, blockSize)
	total := decimal.Zero
	if qty.Sign() <= 0 {
		return nil, total
	}

	charges := make([]TierCharge, 0, len(tiers))
	for i, tier := range tiers {
		start := fromUint(tier.FirstUnit)
		if qty.LessThanOrEqual(start) {
			break
		}

		units := qty.Sub(start)
		var last *uint64
		if i+1 < len(tiers) {
			next := tiers[i+1].FirstUnit
			last = &next
			units = decimal.Min(units, fromUint(next).Sub(start))
		}

		charge := tierCharge(tier, units)
		charge.LastUnit = last
		charges = append(charges, charge)
		total = total.Add(charge.Amount)
	}
	return charges, total
}

// VolumeCharge bills all of qty at the rate of the tier the total falls into.
func VolumeCharge(tiers []TierRow, qty decimal.Decimal, blockSize *uint64) (TierCharge, decimal.Decimal) {
	qty = RoundUpToBlock(qty, blockSize)
	if len(tiers) == 0 || qty.Sign() <= 0 {
		return TierCharge{}, decimal.Zero
	}

	idx := 0
	for i, tier := range tiers {
		if qty.GreaterThanOrEqual(fromUint(tier.FirstUnit)) {
			idx = i
		}
	}
	charge := tierCharge(tiers[idx], qty)
	if idx+1 < len(tiers) {
		next := tiers[idx+1].FirstUnit
		charge.LastUnit = &next
	}
	return charge, charge.Amount
}

// PackageCharge bills qty rounded up to whole blocks. It returns the number of
// blocks billed and the amount.
func PackageCharge(pkg PackagePricing, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if pkg.BlockSize == 0 || qty.Sign() <= 0 {
		return decimal.Zero, decimal.Zero
	}
	blocks := qty.Div(fromUint(pkg.BlockSize)).Ceil()
	return blocks, blocks.Mul(pkg.Rate)
}

func PerUnitCharge(rate, qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(rate)
}

// MatrixRateFor returns the row whose dimensions match exactly.
func MatrixRateFor(rows []MatrixRate, dim1 MatrixDimension, dim2 *MatrixDimension) (MatrixRate, error) {
	for _, row := range rows {
		if row.Dimension1 != dim1 {
			continue
		}
		switch {
		case row.Dimension2 == nil && dim2 == nil:
			return row, nil
		case row.Dimension2 != nil && dim2 != nil && *row.Dimension2 == *dim2:
			return row, nil
		}
	}
	if dim2 != nil {
		return MatrixRate{}, errs.InvalidArgument("fee.matrix", "no rate for %s=%s, %s=%s", dim1.Key, dim1.Value, dim2.Key, dim2.Value)
	}
	return MatrixRate{}, errs.InvalidArgument("fee.matrix", "no rate for %s=%s", dim1.Key, dim1.Value)
}

func tierCharge(tier TierRow, units decimal.Decimal) TierCharge {
	amount := units.Mul(tier.Rate)
	if tier.FlatCap != nil {
		amount = decimal.Min(amount, *tier.FlatCap)
	}
	flat := decimal.Zero
	if tier.FlatFee != nil && units.Sign() > 0 {
		flat = *tier.FlatFee
	}
	return TierCharge{
		FirstUnit: tier.FirstUnit,
		Units:     units,
		Rate:      tier.Rate,
		FlatFee:   flat,
		Amount:    amount.Add(flat),
	}
}

func fromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
