package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/billingcore/internal/errs"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tierFixture() []TierRow {
	return []TierRow{
		{FirstUnit: 0, Rate: d("1.00")},
		{FirstUnit: 10, Rate: d("0.50"), FlatFee: ptr(d("2.00"))},
		{FirstUnit: 100, Rate: d("0.10"), FlatCap: ptr(d("5.00"))},
	}
}

func TestTieredCharges(t *testing.T) {
	charges, total := TieredCharges(tierFixture(), d("150"), nil)
	require.Len(t, charges, 3)

	// 10 x 1.00 + (90 x 0.50 + 2) + min(50 x 0.10, 5)
	assert.True(t, charges[0].Amount.Equal(d("10")))
	assert.True(t, charges[1].Amount.Equal(d("47")))
	assert.True(t, charges[2].Amount.Equal(d("5")))
	assert.True(t, total.Equal(d("62")), total.String())
	assert.Nil(t, charges[2].LastUnit)
	assert.Equal(t, uint64(100), *charges[1].LastUnit)
}

func TestTieredChargesFlatCap(t *testing.T) {
	_, total := TieredCharges(tierFixture(), d("200"), nil)
	// third tier: 100 x 0.10 = 10 capped at 5
	assert.True(t, total.Equal(d("62")), total.String())
}

func TestTieredChargesSumAndBounds(t *testing.T) {
	tiers := tierFixture()
	quantities := []string{"0", "1", "9.5", "10", "11", "99", "100", "101", "12345.678"}

	for _, q := range quantities {
		charges, total := TieredCharges(tiers, d(q), nil)

		sum := decimal.Zero
		for i, c := range charges {
			sum = sum.Add(c.Amount)
			if i+1 < len(tiers) {
				width := decimal.NewFromInt(int64(tiers[i+1].FirstUnit - tiers[i].FirstUnit))
				assert.True(t, c.Units.LessThanOrEqual(width), "qty %s tier %d units %s", q, i, c.Units)
			}
		}
		assert.True(t, sum.Equal(total), "qty %s", q)
	}
}

func TestTieredChargesBlockSize(t *testing.T) {
	charges, total := TieredCharges(tierFixture(), d("3"), ptr(uint64(5)))
	require.Len(t, charges, 1)
	assert.True(t, charges[0].Units.Equal(d("5")))
	assert.True(t, total.Equal(d("5")))
}

func TestVolumeCharge(t *testing.T) {
	tiers := []TierRow{
		{FirstUnit: 0, Rate: d("1.00")},
		{FirstUnit: 10, Rate: d("0.50")},
		{FirstUnit: 100, Rate: d("0.10")},
	}

	charge, total := VolumeCharge(tiers, d("50"), nil)
	assert.True(t, charge.Rate.Equal(d("0.50")))
	assert.True(t, total.Equal(d("25")))

	_, total = VolumeCharge(tiers, d("100"), nil)
	assert.True(t, total.Equal(d("10")))

	_, total = VolumeCharge(tiers, d("0"), nil)
	assert.True(t, total.IsZero())
}

func TestPackageCharge(t *testing.T) {
	blocks, amount := PackageCharge(PackagePricing{BlockSize: 100, Rate: d("3")}, d("250"))
	assert.True(t, blocks.Equal(d("3")))
	assert.True(t, amount.Equal(d("9")))

	blocks, amount = PackageCharge(PackagePricing{BlockSize: 100, Rate: d("3")}, d("200"))
	assert.True(t, blocks.Equal(d("2")))
	assert.True(t, amount.Equal(d("6")))
}

func TestPerUnitCharge(t *testing.T) {
	assert.True(t, PerUnitCharge(d("0.015"), d("1000.5")).Equal(d("15.0075")))
}

func TestMatrixRateFor(t *testing.T) {
	rows := []MatrixRate{
		{Dimension1: MatrixDimension{Key: "region", Value: "eu"}, PerUnitPrice: d("0.2")},
		{
			Dimension1:   MatrixDimension{Key: "region", Value: "us"},
			Dimension2:   &MatrixDimension{Key: "tier", Value: "gold"},
			PerUnitPrice: d("0.5"),
		},
	}

	row, err := MatrixRateFor(rows, MatrixDimension{Key: "region", Value: "eu"}, nil)
	require.NoError(t, err)
	assert.True(t, row.PerUnitPrice.Equal(d("0.2")))

	row, err = MatrixRateFor(rows, MatrixDimension{Key: "region", Value: "us"}, &MatrixDimension{Key: "tier", Value: "gold"})
	require.NoError(t, err)
	assert.True(t, row.PerUnitPrice.Equal(d("0.5")))

	_, err = MatrixRateFor(rows, MatrixDimension{Key: "region", Value: "us"}, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestToMinorInt(t *testing.T) {
	assert.Equal(t, int64(1200), ToMinorInt(d("12.00"), "USD"))
	assert.Equal(t, int64(1200), ToMinorInt(d("1200"), "JPY"))
	assert.Equal(t, int64(1235), ToMinorInt(d("1.2345"), "KWD"))
	assert.Equal(t, int64(13), ToMinorInt(d("0.125"), "eur"))
}
