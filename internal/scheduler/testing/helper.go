// Package testing nudges stored invoices through time so lifecycle workers
// can be exercised without waiting on real clocks.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

// TimeAccelerator rewrites invoice timestamps relative to a reference time.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// ExpireInvoiceData marks every mutable invoice as stale so the next price
// run picks it up again.
func (ta *TimeAccelerator) ExpireInvoiceData(ctx context.Context, now time.Time) (int64, error) {
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET data_updated_at = ?, updated_at = ?
		 WHERE status IN ?`,
		now.Add(-24*time.Hour),
		now,
		invoicedomain.Mutable,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// BackdateInvoice moves a mutable invoice's date back by d, which pushes it
// toward the end of its grace period.
func (ta *TimeAccelerator) BackdateInvoice(ctx context.Context, invoiceID snowflake.ID, d time.Duration) error {
	var inv invoicedomain.Invoice
	if err := ta.db.WithContext(ctx).Select("id", "invoice_date").First(&inv, "id = ?", invoiceID).Error; err != nil {
		return err
	}
	return ta.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET invoice_date = ?
		 WHERE id = ? AND status IN ?`,
		inv.InvoiceDate.Add(-d),
		invoiceID,
		invoicedomain.Mutable,
	).Error
}

// ResetIssueAttempts gives a finalized invoice a fresh issuance budget.
func (ta *TimeAccelerator) ResetIssueAttempts(ctx context.Context, invoiceID snowflake.ID) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET issue_attempts = 0, last_issue_error = NULL
		 WHERE id = ? AND status = ? AND issued = ?`,
		invoiceID,
		invoicedomain.StatusFinalized,
		false,
	).Error
}
