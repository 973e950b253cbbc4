package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/errs"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/option"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/repository"
)

const defaultPageSize = 50

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Node             *snowflake.Node
	Deriver          invoicedomain.LedgerDeriver
	SubscriptionRepo subscriptiondomain.Repository
}

type repo struct {
	db       *gorm.DB
	log      *zap.Logger
	node     *snowflake.Node
	deriver  invoicedomain.LedgerDeriver
	subs     subscriptiondomain.Repository
	invoices repository.Repository[invoicedomain.Invoice]
}

func Provide(p Params) invoicedomain.Repository {
	return &repo{
		db:       p.DB,
		log:      p.Log.Named("invoice.repository"),
		node:     p.Node,
		deriver:  p.Deriver,
		subs:     p.SubscriptionRepo,
		invoices: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

func (r *repo) Insert(ctx context.Context, invoice *invoicedomain.Invoice) (*invoicedomain.Invoice, error) {
	out, err := r.InsertBatch(ctx, []*invoicedomain.Invoice{invoice})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InsertBatch inserts invoices and derives their MRR movements in one transaction.
func (r *repo) InsertBatch(ctx context.Context, invoices []*invoicedomain.Invoice) ([]*invoicedomain.Invoice, error) {
	const op = "invoice.insert"
	if len(invoices) == 0 {
		return nil, nil
	}

	for _, inv := range invoices {
		if err := r.prepare(inv); err != nil {
			return nil, err
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.invoices.WithTrx(tx).BatchCreate(ctx, invoices); err != nil {
			return err
		}
		for _, inv := range invoices {
			if err := r.deriver.Derive(ctx, tx, inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, errs.Wrap(errs.KindInvalidArgument, op, invoicedomain.ErrDuplicateInvoice)
		}
		return nil, errs.Internal(op, err)
	}
	return invoices, nil
}

func (r *repo) prepare(inv *invoicedomain.Invoice) error {
	const op = "invoice.insert"
	if inv.TenantID == 0 || inv.SubscriptionID == 0 {
		return errs.InvalidArgument(op, "tenant and subscription are required")
	}
	if inv.Currency == "" {
		return errs.InvalidArgument(op, "currency is required")
	}
	if inv.InvoiceType == "" {
		inv.InvoiceType = invoicedomain.InvoiceTypeRecurring
	}
	if !inv.InvoiceType.Valid() {
		return errs.Wrap(errs.KindInvalidArgument, op, invoicedomain.ErrInvalidInvoiceType)
	}
	if inv.Status == "" {
		inv.Status = invoicedomain.StatusDraft
	}
	if !inv.Status.Valid() {
		return errs.InvalidArgument(op, "unknown status %q", inv.Status)
	}
	if inv.InvoicingProvider == "" {
		inv.InvoicingProvider = invoicedomain.DefaultInvoicingProvider
	}
	if inv.ID == 0 {
		inv.ID = r.node.Generate()
	}
	inv.InvoiceDate = truncateDate(inv.InvoiceDate)

	lines, err := invoicedomain.DecodeLines(inv.LineItems)
	if err != nil {
		return err
	}
	raw, err := invoicedomain.EncodeLines(lines)
	if err != nil {
		return err
	}
	inv.LineItems = raw
	applyTotals(inv, invoicedomain.ComputeTotals(lines))
	return nil
}

func (r *repo) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	inv, err := r.invoices.FindOne(ctx, &invoicedomain.Invoice{TenantID: tenantID, ID: id})
	if err != nil {
		return nil, errs.Internal("invoice.find", err)
	}
	if inv == nil {
		return nil, errs.Wrap(errs.KindNotFound, "invoice.find", invoicedomain.ErrInvoiceNotFound)
	}
	return inv, nil
}

func (r *repo) List(ctx context.Context, tenantID snowflake.ID, filter invoicedomain.ListFilter, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	const op = "invoice.list"
	size := pageSize(page)

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return pagination.Page[invoicedomain.Invoice]{}, errs.Wrap(errs.KindInvalidArgument, op, err)
	}

	direction, cmp := option.Asc, option.GreaterThan
	if filter.Descending {
		direction, cmp = option.Desc, option.LessThan
	}

	opts := []option.QueryOption{option.WithSortBy("id", direction), option.ApplyPagination(size)}
	if cursor != nil {
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return pagination.Page[invoicedomain.Invoice]{}, errs.Wrap(errs.KindInvalidArgument, op, pagination.ErrInvalidCursor)
		}
		opts = append(opts, option.ApplyOperator("id", cmp, after))
	}

	rows, err := r.invoices.Find(ctx, &invoicedomain.Invoice{
		TenantID:       tenantID,
		Status:         filter.Status,
		SubscriptionID: filter.SubscriptionID,
		CustomerID:     filter.CustomerID,
	}, opts...)
	if err != nil {
		return pagination.Page[invoicedomain.Invoice]{}, errs.Internal(op, err)
	}
	return buildPage(rows, size)
}

func (r *repo) ListByCursor(ctx context.Context, predicate invoicedomain.CursorPredicate, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	const op = "invoice.list_by_cursor"
	size := pageSize(page)

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return pagination.Page[invoicedomain.Invoice]{}, errs.Wrap(errs.KindInvalidArgument, op, err)
	}

	query := r.db.WithContext(ctx).Model(&invoicedomain.Invoice{})
	if cursor != nil {
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return pagination.Page[invoicedomain.Invoice]{}, errs.Wrap(errs.KindInvalidArgument, op, pagination.ErrInvalidCursor)
		}
		query = query.Where("id > ?", after)
	}
	if len(predicate.Statuses) > 0 {
		query = query.Where("status IN ?", predicate.Statuses)
	}
	if len(predicate.Types) > 0 {
		query = query.Where("invoice_type IN ?", predicate.Types)
	}
	if predicate.InvoiceDateBefore != nil {
		query = query.Where("invoice_date <= ?", truncateDate(*predicate.InvoiceDateBefore))
	}
	if predicate.StaleBefore != nil {
		query = query.Where("(data_updated_at IS NULL OR data_updated_at < ?)", *predicate.StaleBefore)
	}
	if predicate.Issued != nil {
		query = query.Where("issued = ?", *predicate.Issued)
	}
	if predicate.MaxIssueAttempts != nil {
		query = query.Where("issue_attempts < ?", *predicate.MaxIssueAttempts)
	}

	var rows []*invoicedomain.Invoice
	if err := query.Order("id ASC").Limit(size + 1).Find(&rows).Error; err != nil {
		return pagination.Page[invoicedomain.Invoice]{}, errs.FromContext(op, err)
	}
	return buildPage(rows, size)
}

func (r *repo) ListToPrice(ctx context.Context, today, staleBefore time.Time, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	return r.ListByCursor(ctx, invoicedomain.CursorPredicate{
		Statuses:          invoicedomain.Mutable,
		Types:             []invoicedomain.InvoiceType{invoicedomain.InvoiceTypeRecurring},
		InvoiceDateBefore: &today,
		StaleBefore:       &staleBefore,
	}, page)
}

func (r *repo) ListPendingCandidates(ctx context.Context, now time.Time, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	return r.ListByCursor(ctx, invoicedomain.CursorPredicate{
		Statuses:          []invoicedomain.Status{invoicedomain.StatusDraft},
		InvoiceDateBefore: &now,
	}, page)
}

func (r *repo) ListToFinalize(ctx context.Context, now time.Time, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	return r.ListByCursor(ctx, invoicedomain.CursorPredicate{
		Statuses:          invoicedomain.Mutable,
		InvoiceDateBefore: &now,
	}, page)
}

func (r *repo) ListToIssue(ctx context.Context, maxAttempts int32, page pagination.Pagination) (pagination.Page[invoicedomain.Invoice], error) {
	issued := false
	return r.ListByCursor(ctx, invoicedomain.CursorPredicate{
		Statuses:         []invoicedomain.Status{invoicedomain.StatusFinalized},
		Issued:           &issued,
		MaxIssueAttempts: &maxAttempts,
	}, page)
}

func (r *repo) ExistsForDate(ctx context.Context, tenantID, subscriptionID snowflake.ID, invoiceType invoicedomain.InvoiceType, invoiceDate time.Time) (bool, error) {
	day := truncateDate(invoiceDate)
	var count int64
	err := r.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("tenant_id = ? AND subscription_id = ? AND invoice_type = ? AND invoice_date >= ? AND invoice_date < ?",
			tenantID, subscriptionID, invoiceType, day, day.AddDate(0, 0, 1)).
		Count(&count).Error
	if err != nil {
		return false, errs.FromContext("invoice.exists", err)
	}
	return count > 0, nil
}

func (r *repo) UpdateLines(ctx context.Context, tenantID, id snowflake.ID, lines []invoicedomain.LineItem, now time.Time) (bool, error) {
	raw, err := invoicedomain.EncodeLines(lines)
	if err != nil {
		return false, err
	}
	totals := invoicedomain.ComputeTotals(lines)

	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET line_items = ?, subtotal = ?, tax = ?, total = ?, amount_cents = ?, data_updated_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status IN ?`,
		raw, totals.Subtotal, totals.Tax, totals.Total, totals.Total, now, now,
		tenantID, id, invoicedomain.Mutable,
	)
	if res.Error != nil {
		return false, errs.FromContext("invoice.update_lines", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStatusConditional(ctx context.Context, tenantID, id snowflake.ID, expected, next invoicedomain.Status, now time.Time) (bool, error) {
	if !expected.CanTransition(next) {
		return false, errs.Wrap(errs.KindInvalidArgument, "invoice.update_status", invoicedomain.ErrInvalidTransition)
	}

	res := r.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?`,
		next, now, tenantID, id, expected,
	)
	if res.Error != nil {
		return false, errs.FromContext("invoice.update_status", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Finalize freezes lines and totals and moves a mutable invoice to FINALIZED.
// It reports false when another run already moved the row.
func (r *repo) Finalize(ctx context.Context, tenantID, id snowflake.ID, lines []invoicedomain.LineItem, now time.Time) (bool, error) {
	const op = "invoice.finalize"
	raw, err := invoicedomain.EncodeLines(lines)
	if err != nil {
		return false, err
	}
	totals := invoicedomain.ComputeTotals(lines)

	updated := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current invoicedomain.Invoice
		err := tx.Raw(
			`SELECT id, status, days_until_due FROM invoices WHERE tenant_id = ? AND id = ? FOR UPDATE`,
			tenantID, id,
		).Scan(&current).Error
		if err != nil {
			return err
		}
		if current.ID == 0 {
			return errs.Wrap(errs.KindNotFound, op, invoicedomain.ErrInvoiceNotFound)
		}
		if !current.Status.IsMutable() {
			return nil
		}

		dueAt := now.AddDate(0, 0, int(current.DaysUntilDue))
		res := tx.Exec(
			`UPDATE invoices
			 SET status = ?, line_items = ?, subtotal = ?, tax = ?, total = ?, amount_cents = ?,
			     finalized_at = ?, due_at = ?, data_updated_at = ?, updated_at = ?
			 WHERE tenant_id = ? AND id = ? AND status IN ?`,
			invoicedomain.StatusFinalized, raw, totals.Subtotal, totals.Tax, totals.Total, totals.Total,
			now, dueAt, now, now,
			tenantID, id, invoicedomain.Mutable,
		)
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, errs.FromContext(op, err)
	}
	return updated, nil
}

func (r *repo) RecordIssueAttempt(ctx context.Context, tenantID, id snowflake.ID, attempt invoicedomain.IssueAttempt) (bool, error) {
	const op = "invoice.record_issue_attempt"
	var res *gorm.DB
	if attempt.Success {
		var externalID *string
		if attempt.ExternalInvoiceID != "" {
			externalID = &attempt.ExternalInvoiceID
		}
		res = r.db.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET issued = ?, last_issue_attempt_at = ?, last_issue_error = NULL,
			     external_invoice_id = COALESCE(?, external_invoice_id), external_status = COALESCE(external_status, ?), updated_at = ?
			 WHERE tenant_id = ? AND id = ? AND status = ? AND finalized_at IS NOT NULL AND issued = ?`,
			true, attempt.At, externalID, invoicedomain.ExternalStatusPending, attempt.At,
			tenantID, id, invoicedomain.StatusFinalized, false,
		)
	} else {
		res = r.db.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET issue_attempts = issue_attempts + 1, last_issue_error = ?, last_issue_attempt_at = ?, updated_at = ?
			 WHERE tenant_id = ? AND id = ? AND status = ? AND issued = ?`,
			attempt.Error, attempt.At, attempt.At,
			tenantID, id, invoicedomain.StatusFinalized, false,
		)
	}
	if res.Error != nil {
		return false, errs.FromContext(op, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateExternalStatus records the provider status. A paid invoice activates
// its subscription in the same transaction.
func (r *repo) UpdateExternalStatus(ctx context.Context, tenantID, id snowflake.ID, status invoicedomain.ExternalStatus, now time.Time) error {
	const op = "invoice.update_external_status"
	if !status.Valid() {
		return errs.Wrap(errs.KindInvalidArgument, op, invoicedomain.ErrInvalidExternalStatus)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv invoicedomain.Invoice
		err := tx.Where("tenant_id = ? AND id = ?", tenantID, id).First(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.Wrap(errs.KindNotFound, op, invoicedomain.ErrInvoiceNotFound)
		}
		if err != nil {
			return err
		}
		if inv.Status != invoicedomain.StatusFinalized {
			return errs.Wrap(errs.KindInvalidArgument, op, invoicedomain.ErrNotFinalized)
		}

		if err := tx.Exec(
			`UPDATE invoices SET external_status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
			status, now, tenantID, id,
		).Error; err != nil {
			return err
		}

		if status != invoicedomain.ExternalStatusPaid {
			return nil
		}
		activated, err := r.subs.WithTx(tx).Activate(ctx, tenantID, inv.SubscriptionID, now)
		if err != nil {
			return err
		}
		if activated {
			r.log.Info("subscription activated by payment",
				zap.String("tenant_id", tenantID.String()),
				zap.String("invoice_id", id.String()),
				zap.String("subscription_id", inv.SubscriptionID.String()),
			)
		}
		return nil
	})
	if err != nil {
		return errs.FromContext(op, err)
	}
	return nil
}

func applyTotals(inv *invoicedomain.Invoice, totals invoicedomain.Totals) {
	inv.Subtotal = totals.Subtotal
	inv.Tax = totals.Tax
	inv.Total = totals.Total
	inv.AmountCents = totals.Total
}

func buildPage(rows []*invoicedomain.Invoice, size int) (pagination.Page[invoicedomain.Invoice], error) {
	items := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return pagination.BuildCursorPage(items, size, func(inv invoicedomain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(inv.ID.Int64(), 10)}
	})
}

func pageSize(page pagination.Pagination) int {
	if page.PageSize <= 0 {
		return defaultPageSize
	}
	return page.PageSize
}

func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
