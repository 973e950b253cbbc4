package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/pkg/db/dbtest"
)

const tenantID = snowflake.ID(3)

func TestComponentsAreOrderedByPosition(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, &plandomain.PlanVersion{}, &plandomain.PriceComponent{})
	repo := Provide(db)

	version := &plandomain.PlanVersion{ID: 100, TenantID: tenantID, PlanID: 1, Currency: "EUR"}
	require.NoError(t, repo.CreateVersion(ctx, version))
	other := &plandomain.PlanVersion{ID: 200, TenantID: tenantID, PlanID: 1, Version: 2, Currency: "EUR"}
	require.NoError(t, repo.CreateVersion(ctx, other))

	raw, err := feedomain.EncodeFee(feedomain.OneTimeFee{UnitPrice: decimal.RequireFromString("25"), Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, repo.CreateComponents(ctx, []*plandomain.PriceComponent{
		{ID: 3, TenantID: tenantID, PlanVersionID: 100, Name: "setup", Position: 2, Fee: raw},
		{ID: 1, TenantID: tenantID, PlanVersionID: 100, Name: "onboarding", Position: 1, Fee: raw},
		{ID: 2, TenantID: tenantID, PlanVersionID: 200, Name: "setup", Position: 1, Fee: raw},
	}))

	components, err := repo.ListComponents(ctx, tenantID, 100)
	require.NoError(t, err)
	require.Len(t, components, 2)
	assert.Equal(t, "onboarding", components[0].Name)
	assert.Equal(t, "setup", components[1].Name)

	fee, err := components[0].Definition()
	require.NoError(t, err)
	assert.Equal(t, feedomain.FeeTypeOneTime, fee.Type())

	other200, err := repo.ListComponents(ctx, tenantID, 200)
	require.NoError(t, err)
	assert.Len(t, other200, 1)
}

func TestFindVersionNotFound(t *testing.T) {
	db := dbtest.Open(t, &plandomain.PlanVersion{}, &plandomain.PriceComponent{})

	_, err := Provide(db).FindVersion(context.Background(), tenantID, 404)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	assert.ErrorIs(t, err, plandomain.ErrPlanVersionNotFound)
}

func TestWithTxRollsBackVersionAndComponents(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, &plandomain.PlanVersion{}, &plandomain.PriceComponent{})
	repo := Provide(db)

	raw, err := feedomain.EncodeFee(feedomain.OneTimeFee{UnitPrice: decimal.RequireFromString("25"), Quantity: 1})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		plans := repo.WithTx(tx)
		if err := plans.CreateVersion(ctx, &plandomain.PlanVersion{ID: 300, TenantID: tenantID, PlanID: 1, Currency: "EUR"}); err != nil {
			return err
		}
		if err := plans.CreateComponents(ctx, []*plandomain.PriceComponent{{ID: 9, TenantID: tenantID, PlanVersionID: 300, Name: "setup", Fee: raw}}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = repo.FindVersion(ctx, tenantID, 300)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	components, err := repo.ListComponents(ctx, tenantID, 300)
	require.NoError(t, err)
	assert.Empty(t, components)
}
