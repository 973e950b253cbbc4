package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/db/dbtest"
)

const tenantID = snowflake.ID(42)

func setup(t *testing.T) (*gorm.DB, subscriptiondomain.Repository, *snowflake.Node) {
	t.Helper()
	db := dbtest.Open(t,
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionComponent{},
		&subscriptiondomain.SubscriptionEvent{},
		&usagedomain.SlotTransaction{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	return db, Provide(db, node, clk), node
}

func seedSubscription(t *testing.T, repo subscriptiondomain.Repository, node *snowflake.Node, status subscriptiondomain.SubscriptionStatus) *subscriptiondomain.Subscription {
	t.Helper()
	sub := &subscriptiondomain.Subscription{
		ID:                node.Generate(),
		TenantID:          tenantID,
		CustomerID:        node.Generate(),
		PlanVersionID:     node.Generate(),
		Status:            status,
		Currency:          "USD",
		BillingStartDate:  time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		BillingDay:        1,
		BillingPeriod:     feedomain.BillingPeriodMonthly,
		InvoicingProvider: "manual",
	}
	require.NoError(t, repo.Insert(context.Background(), sub))
	return sub
}

func slotComponent(t *testing.T, node *snowflake.Node) plandomain.PriceComponent {
	t.Helper()
	minimum := uint32(2)
	raw, err := feedomain.EncodeFee(feedomain.SlotFee{
		Rates: []feedomain.TermRate{
			{Term: feedomain.BillingPeriodMonthly, Price: decimal.RequireFromString("10")},
			{Term: feedomain.BillingPeriodAnnual, Price: decimal.RequireFromString("100")},
		},
		SlotUnitName: "seat",
		MinimumCount: &minimum,
	})
	require.NoError(t, err)
	return plandomain.PriceComponent{ID: node.Generate(), TenantID: tenantID, Name: "Seats", Position: 1, Fee: raw}
}

func TestBindComponentRecordsInitialSlots(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	sub := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)
	component := slotComponent(t, node)

	monthly := feedomain.BillingPeriodMonthly
	params := &feedomain.Parameters{BillingPeriod: &monthly}

	bound, err := repo.BindComponent(ctx, sub, component, params)
	require.NoError(t, err)
	assert.Equal(t, feedomain.BillingPeriodMonthly, bound.Period)

	fee, err := bound.ResolvedFee()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), fee.(feedomain.SubscriptionSlot).InitialSlots)

	var txs []usagedomain.SlotTransaction
	require.NoError(t, db.Find(&txs).Error)
	require.Len(t, txs, 1)
	assert.Equal(t, int32(2), txs[0].Delta)
	assert.Equal(t, bound.ID, txs[0].ComponentID)

	again, err := repo.BindComponent(ctx, sub, component, params)
	require.NoError(t, err)
	assert.Equal(t, bound.ID, again.ID)

	annual := feedomain.BillingPeriodAnnual
	_, err = repo.BindComponent(ctx, sub, component, &feedomain.Parameters{BillingPeriod: &annual})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.ErrorIs(t, err, subscriptiondomain.ErrComponentConflict)

	require.NoError(t, db.Find(&txs).Error)
	assert.Len(t, txs, 1)
}

func TestBindComponentLosingConcurrentInsertReusesWinner(t *testing.T) {
	db, repo, node := setup(t)
	ctx := context.Background()
	sub := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)
	component := slotComponent(t, node)
	monthly := feedomain.BillingPeriodMonthly
	params := &feedomain.Parameters{BillingPeriod: &monthly}

	// Another binder commits its row right after our existence check.
	winner := Provide(db, node, clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)))
	var (
		raced bool
		won   *subscriptiondomain.SubscriptionComponent
	)
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:concurrent_bind", func(tx *gorm.DB) {
		if raced || tx.Statement.Table != "subscription_components" {
			return
		}
		raced = true
		bound, bindErr := winner.BindComponent(ctx, sub, component, params)
		require.NoError(t, bindErr)
		won = bound
	}))
	t.Cleanup(func() { _ = db.Callback().Query().Remove("test:concurrent_bind") })

	bound, err := repo.BindComponent(ctx, sub, component, params)
	require.NoError(t, err)
	require.NotNil(t, won)
	assert.Equal(t, won.ID, bound.ID)

	var txs []usagedomain.SlotTransaction
	require.NoError(t, db.Find(&txs).Error)
	assert.Len(t, txs, 1)
}

func TestBindComponentInvalidParameters(t *testing.T) {
	_, repo, node := setup(t)
	sub := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)

	_, err := repo.BindComponent(context.Background(), sub, slotComponent(t, node), nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestListBillablePagesByID(t *testing.T) {
	_, repo, node := setup(t)
	ctx := context.Background()

	a := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)
	seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusCanceled)
	c := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusPending)

	page, err := repo.ListBillable(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)

	page, err = repo.ListBillable(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, c.ID, page[0].ID)
}

func TestFindByIDsIsScopedToTenant(t *testing.T) {
	_, repo, node := setup(t)
	ctx := context.Background()

	own := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)
	foreign := *own
	foreign.ID = node.Generate()
	foreign.TenantID = snowflake.ID(7)
	require.NoError(t, repo.Insert(ctx, &foreign))

	found, err := repo.FindByIDs(ctx, tenantID, []snowflake.ID{own.ID, foreign.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found, own.ID)

	found, err = repo.FindByIDs(ctx, snowflake.ID(7), []snowflake.ID{own.ID, foreign.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, snowflake.ID(7), found[foreign.ID].TenantID)
}

func TestActivateAndAddMrr(t *testing.T) {
	_, repo, node := setup(t)
	ctx := context.Background()
	sub := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusPending)
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	ok, err := repo.Activate(ctx, tenantID, sub.ID, at)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.AddMrr(ctx, tenantID, sub.ID, 5000))
	require.NoError(t, repo.AddMrr(ctx, tenantID, sub.ID, -1500))

	got, err := repo.FindByID(ctx, tenantID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, got.Status)
	assert.Equal(t, int64(3500), got.MrrCents)
	require.NotNil(t, got.ActivatedAt)
	assert.True(t, got.ActivatedAt.Equal(at))

	err = repo.AddMrr(ctx, tenantID, node.Generate(), 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = repo.FindByID(ctx, snowflake.ID(7), sub.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListEventsOn(t *testing.T) {
	_, repo, node := setup(t)
	ctx := context.Background()
	sub := seedSubscription(t, repo, node, subscriptiondomain.SubscriptionStatusActive)

	delta := int64(5000)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertEvent(ctx, &subscriptiondomain.SubscriptionEvent{
		TenantID: tenantID, SubscriptionID: sub.ID, EventType: subscriptiondomain.EventTypeCreated, MrrDelta: &delta, AppliesTo: day,
	}))
	require.NoError(t, repo.InsertEvent(ctx, &subscriptiondomain.SubscriptionEvent{
		TenantID: tenantID, SubscriptionID: sub.ID, EventType: subscriptiondomain.EventTypeUpdated, AppliesTo: day.AddDate(0, 0, 1),
	}))

	events, err := repo.ListEventsOn(ctx, tenantID, sub.ID, day)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, subscriptiondomain.EventTypeCreated, events[0].EventType)
}
