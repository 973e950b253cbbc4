package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/errs"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	mrrdomain "github.com/smallbiznis/billingcore/internal/mrr/domain"
	mrrservice "github.com/smallbiznis/billingcore/internal/mrr/service"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/billingcore/internal/subscription/repository"
	"github.com/smallbiznis/billingcore/pkg/db/dbtest"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

const tenantID = snowflake.ID(11)

var (
	invoiceDate = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now         = time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC)
)

type failingDeriver struct{ err error }

func (d failingDeriver) Derive(context.Context, *gorm.DB, *invoicedomain.Invoice) error { return d.err }

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	subs subscriptiondomain.Repository
	repo invoicedomain.Repository
	sub  *subscriptiondomain.Subscription
}

func setup(t *testing.T, deriver invoicedomain.LedgerDeriver) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionEvent{},
		&invoicedomain.Invoice{},
		&mrrdomain.MovementLog{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	subs := subscriptionrepo.Provide(db, node, clk)

	if deriver == nil {
		deriver = mrrservice.NewDeriver(mrrservice.Params{
			Log:              zap.NewNop(),
			Node:             node,
			Clock:            clk,
			SubscriptionRepo: subs,
		})
	}

	sub := &subscriptiondomain.Subscription{
		ID:                node.Generate(),
		TenantID:          tenantID,
		CustomerID:        node.Generate(),
		PlanVersionID:     node.Generate(),
		Status:            subscriptiondomain.SubscriptionStatusPending,
		Currency:          "USD",
		BillingStartDate:  invoiceDate,
		BillingDay:        1,
		BillingPeriod:     feedomain.BillingPeriodMonthly,
		InvoicingProvider: "manual",
	}
	require.NoError(t, subs.Insert(context.Background(), sub))

	return &fixture{
		db:   db,
		node: node,
		subs: subs,
		repo: Provide(Params{
			DB:               db,
			Log:              zap.NewNop(),
			Node:             node,
			Deriver:          deriver,
			SubscriptionRepo: subs,
		}),
		sub: sub,
	}
}

func line(name string, total int64) invoicedomain.LineItem {
	return invoicedomain.LineItem{
		ID:          name,
		Name:        name,
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(total),
		Total:       total,
		Start:       invoiceDate,
		End:         invoiceDate.AddDate(0, 1, 0),
		BillingType: feedomain.BillingTypeAdvance,
	}
}

func (f *fixture) newInvoice(t *testing.T, date time.Time, lines ...invoicedomain.LineItem) *invoicedomain.Invoice {
	t.Helper()
	raw, err := invoicedomain.EncodeLines(lines)
	require.NoError(t, err)
	return &invoicedomain.Invoice{
		TenantID:       tenantID,
		CustomerID:     f.sub.CustomerID,
		SubscriptionID: f.sub.ID,
		PlanVersionID:  f.sub.PlanVersionID,
		InvoiceType:    invoicedomain.InvoiceTypeRecurring,
		Currency:       "USD",
		InvoiceDate:    date,
		LineItems:      raw,
		DaysUntilDue:   14,
	}
}

func (f *fixture) insert(t *testing.T, date time.Time, lines ...invoicedomain.LineItem) *invoicedomain.Invoice {
	t.Helper()
	inv, err := f.repo.Insert(context.Background(), f.newInvoice(t, date, lines...))
	require.NoError(t, err)
	return inv
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	inv, err := f.repo.FindByID(context.Background(), tenantID, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) movementCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&mrrdomain.MovementLog{}).Count(&count).Error)
	return count
}

func TestInsertComputesTotalsAndDefaults(t *testing.T) {
	f := setup(t, nil)

	inv := f.insert(t, invoiceDate.Add(15*time.Hour), line("base", 1200), line("overage", 745))

	stored := f.reload(t, inv.ID)
	assert.Equal(t, invoicedomain.StatusDraft, stored.Status)
	assert.Equal(t, int64(1945), stored.Subtotal)
	assert.Equal(t, int64(1945), stored.Total)
	assert.Equal(t, int64(1945), stored.AmountCents)
	assert.Equal(t, invoicedomain.DefaultInvoicingProvider, stored.InvoicingProvider)
	assert.True(t, stored.InvoiceDate.Equal(invoiceDate))

	lines, err := stored.Lines()
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "base", lines[0].Name)
	assert.Equal(t, "overage", lines[1].Name)
}

func TestInsertDerivesMrrInSameTransaction(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	delta := int64(4900)
	require.NoError(t, f.subs.InsertEvent(ctx, &subscriptiondomain.SubscriptionEvent{
		TenantID:       tenantID,
		SubscriptionID: f.sub.ID,
		EventType:      subscriptiondomain.EventTypeCreated,
		MrrDelta:       &delta,
		AppliesTo:      invoiceDate,
	}))

	f.insert(t, invoiceDate, line("base", 4900))
	assert.Equal(t, int64(1), f.movementCount(t))

	sub, err := f.subs.FindByID(ctx, tenantID, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4900), sub.MrrCents)

	_, err = f.repo.Insert(ctx, f.newInvoice(t, invoiceDate, line("base", 4900)))
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	assert.ErrorIs(t, err, invoicedomain.ErrDuplicateInvoice)

	assert.Equal(t, int64(1), f.movementCount(t))
	sub, err = f.subs.FindByID(ctx, tenantID, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4900), sub.MrrCents)
}

func TestInsertRollsBackWhenDerivationFails(t *testing.T) {
	f := setup(t, failingDeriver{err: errors.New("ledger unavailable")})

	_, err := f.repo.Insert(context.Background(), f.newInvoice(t, invoiceDate, line("base", 100)))
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInsertRejectsUnknownType(t *testing.T) {
	f := setup(t, nil)
	inv := f.newInvoice(t, invoiceDate)
	inv.InvoiceType = "CREDIT_NOTE"

	_, err := f.repo.Insert(context.Background(), inv)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceType)
}

func TestUpdateStatusConditional(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	inv := f.insert(t, invoiceDate, line("base", 100))

	ok, err := f.repo.UpdateStatusConditional(ctx, tenantID, inv.ID, invoicedomain.StatusDraft, invoicedomain.StatusPendingFinalization, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.repo.UpdateStatusConditional(ctx, tenantID, inv.ID, invoicedomain.StatusDraft, invoicedomain.StatusPendingFinalization, now)
	require.NoError(t, err)
	assert.False(t, ok, "second writer loses the race")

	assert.Equal(t, invoicedomain.StatusPendingFinalization, f.reload(t, inv.ID).Status)
}

func TestUpdateStatusConditionalRejectsBackwardMoves(t *testing.T) {
	f := setup(t, nil)
	inv := f.insert(t, invoiceDate, line("base", 100))

	for _, tc := range []struct{ from, to invoicedomain.Status }{
		{invoicedomain.StatusFinalized, invoicedomain.StatusDraft},
		{invoicedomain.StatusPendingFinalization, invoicedomain.StatusDraft},
		{invoicedomain.StatusVoid, invoicedomain.StatusFinalized},
	} {
		ok, err := f.repo.UpdateStatusConditional(context.Background(), tenantID, inv.ID, tc.from, tc.to, now)
		require.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
		assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
	}
}

func TestUpdateStatusConditionalSQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE invoices SET status = \$1, updated_at = \$2 WHERE tenant_id = \$3 AND id = \$4 AND status = \$5`).
		WithArgs("FINALIZED", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING_FINALIZATION").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := Provide(Params{DB: db, Log: zap.NewNop()})
	ok, err := repo.UpdateStatusConditional(context.Background(), tenantID, 99,
		invoicedomain.StatusPendingFinalization, invoicedomain.StatusFinalized, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLinesOnlyWhileMutable(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	inv := f.insert(t, invoiceDate, line("base", 100))

	ok, err := f.repo.UpdateLines(ctx, tenantID, inv.ID, []invoicedomain.LineItem{line("base", 300)}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	stored := f.reload(t, inv.ID)
	assert.Equal(t, int64(300), stored.Total)
	require.NotNil(t, stored.DataUpdatedAt)

	ok, err = f.repo.Finalize(ctx, tenantID, inv.ID, []invoicedomain.LineItem{line("base", 350)}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.repo.UpdateLines(ctx, tenantID, inv.ID, []invoicedomain.LineItem{line("base", 999)}, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(350), f.reload(t, inv.ID).Total)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	inv := f.insert(t, invoiceDate, line("base", 100))

	ok, err := f.repo.Finalize(ctx, tenantID, inv.ID, []invoicedomain.LineItem{line("base", 120)}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	stored := f.reload(t, inv.ID)
	assert.Equal(t, invoicedomain.StatusFinalized, stored.Status)
	assert.Equal(t, int64(120), stored.Total)
	require.NotNil(t, stored.FinalizedAt)
	require.NotNil(t, stored.DueAt)
	assert.True(t, stored.DueAt.Equal(now.AddDate(0, 0, 14)))

	ok, err = f.repo.Finalize(ctx, tenantID, inv.ID, []invoicedomain.LineItem{line("base", 999)}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(120), f.reload(t, inv.ID).Total)

	_, err = f.repo.Finalize(ctx, tenantID, f.node.Generate(), nil, now)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestWorkerScans(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	past := f.insert(t, invoiceDate, line("a", 1))
	f.insert(t, invoiceDate.AddDate(0, 1, 0), line("b", 1))

	page, err := f.repo.ListToPrice(ctx, clock.Today(now), now.Add(-time.Hour), pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, past.ID, page.Items[0].ID)

	_, err = f.repo.UpdateLines(ctx, tenantID, past.ID, []invoicedomain.LineItem{line("a", 2)}, now)
	require.NoError(t, err)
	page, err = f.repo.ListToPrice(ctx, clock.Today(now), now.Add(-time.Hour), pagination.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "freshly priced invoices are skipped")

	page, err = f.repo.ListPendingCandidates(ctx, now, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = f.repo.ListToIssue(ctx, 3, pagination.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = f.repo.Finalize(ctx, tenantID, past.ID, []invoicedomain.LineItem{line("a", 2)}, now)
	require.NoError(t, err)
	page, err = f.repo.ListToIssue(ctx, 3, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, past.ID, page.Items[0].ID)

	page, err = f.repo.ListToFinalize(ctx, now, pagination.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestListToPriceSkipsNonRecurring(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	oneOff := f.newInvoice(t, invoiceDate, line("setup", 500))
	oneOff.InvoiceType = invoicedomain.InvoiceTypeOneOff
	_, err := f.repo.Insert(ctx, oneOff)
	require.NoError(t, err)
	recurring := f.insert(t, invoiceDate.AddDate(0, 0, 1), line("a", 1))

	page, err := f.repo.ListToPrice(ctx, clock.Today(now), now.Add(-time.Hour), pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, recurring.ID, page.Items[0].ID)
}

func TestListByCursorPages(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.insert(t, invoiceDate.AddDate(0, i, 0), line("base", 1))
	}

	var seen []snowflake.ID
	page := pagination.Pagination{PageSize: 2}
	for {
		res, err := f.repo.ListByCursor(ctx, invoicedomain.CursorPredicate{
			Statuses: []invoicedomain.Status{invoicedomain.StatusDraft},
		}, page)
		require.NoError(t, err)
		for _, inv := range res.Items {
			seen = append(seen, inv.ID)
		}
		if !res.PageInfo.HasMore {
			break
		}
		page.PageToken = res.PageInfo.NextPageToken
	}
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}

	_, err := f.repo.ListByCursor(ctx, invoicedomain.CursorPredicate{}, pagination.Pagination{PageToken: "%%%"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestListFiltersByTenantAndStatus(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	first := f.insert(t, invoiceDate, line("a", 1))
	f.insert(t, invoiceDate.AddDate(0, 1, 0), line("b", 1))
	_, err := f.repo.Finalize(ctx, tenantID, first.ID, nil, now)
	require.NoError(t, err)

	page, err := f.repo.List(ctx, tenantID, invoicedomain.ListFilter{Status: invoicedomain.StatusFinalized}, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)

	page, err = f.repo.List(ctx, tenantID, invoicedomain.ListFilter{Descending: true}, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Greater(t, page.Items[0].ID, page.Items[1].ID)

	page, err = f.repo.List(ctx, tenantID+1, invoicedomain.ListFilter{}, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestRecordIssueAttempt(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	inv := f.insert(t, invoiceDate, line("base", 100))

	ok, err := f.repo.RecordIssueAttempt(ctx, tenantID, inv.ID, invoicedomain.IssueAttempt{Success: true, At: now})
	require.NoError(t, err)
	assert.False(t, ok, "drafts are never issued")

	_, err = f.repo.Finalize(ctx, tenantID, inv.ID, nil, now)
	require.NoError(t, err)

	ok, err = f.repo.RecordIssueAttempt(ctx, tenantID, inv.ID, invoicedomain.IssueAttempt{Error: "provider down", At: now})
	require.NoError(t, err)
	assert.True(t, ok)
	stored := f.reload(t, inv.ID)
	assert.Equal(t, int32(1), stored.IssueAttempts)
	assert.Equal(t, invoicedomain.IssuanceFailed, stored.IssuanceState())
	require.NotNil(t, stored.LastIssueError)
	assert.Equal(t, "provider down", *stored.LastIssueError)

	ok, err = f.repo.RecordIssueAttempt(ctx, tenantID, inv.ID, invoicedomain.IssueAttempt{Success: true, ExternalInvoiceID: "man_1", At: now})
	require.NoError(t, err)
	assert.True(t, ok)
	stored = f.reload(t, inv.ID)
	assert.Equal(t, invoicedomain.IssuanceIssued, stored.IssuanceState())
	assert.Nil(t, stored.LastIssueError)
	require.NotNil(t, stored.ExternalInvoiceID)
	assert.Equal(t, "man_1", *stored.ExternalInvoiceID)
	require.NotNil(t, stored.ExternalStatus)
	assert.Equal(t, invoicedomain.ExternalStatusPending, *stored.ExternalStatus)

	ok, err = f.repo.RecordIssueAttempt(ctx, tenantID, inv.ID, invoicedomain.IssueAttempt{Success: true, At: now})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateExternalStatusPaidActivatesSubscription(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	inv := f.insert(t, invoiceDate, line("base", 100))

	err := f.repo.UpdateExternalStatus(ctx, tenantID, inv.ID, invoicedomain.ExternalStatusPaid, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, invoicedomain.ErrNotFinalized)

	_, err = f.repo.Finalize(ctx, tenantID, inv.ID, nil, now)
	require.NoError(t, err)
	require.NoError(t, f.repo.UpdateExternalStatus(ctx, tenantID, inv.ID, invoicedomain.ExternalStatusPaid, now))

	sub, err := f.subs.FindByID(ctx, tenantID, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.ActivatedAt)

	err = f.repo.UpdateExternalStatus(ctx, tenantID, inv.ID, "SETTLED", now)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	err = f.repo.UpdateExternalStatus(ctx, tenantID, f.node.Generate(), invoicedomain.ExternalStatusPaid, now)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}
