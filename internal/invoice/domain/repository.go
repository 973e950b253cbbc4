package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

var (
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrDuplicateInvoice      = errors.New("invoice_already_exists")
	ErrInvalidTransition     = errors.New("invoice_invalid_status_transition")
	ErrInvalidInvoiceType    = errors.New("invoice_invalid_type")
	ErrInvalidExternalStatus = errors.New("invoice_invalid_external_status")
	ErrNotFinalized          = errors.New("invoice_not_finalized")
)

// LedgerDeriver runs inside the insert transaction. A failure rolls back the insert.
type LedgerDeriver interface {
	Derive(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
}

// ListFilter narrows tenant invoice listings. Zero values do not filter.
type ListFilter struct {
	Status         Status
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	Descending     bool
}

// CursorPredicate selects invoices for a worker scan. Rows are ordered by id.
type CursorPredicate struct {
	Statuses          []Status
	Types             []InvoiceType
	InvoiceDateBefore *time.Time // inclusive
	// StaleBefore keeps rows whose data_updated_at is null or older.
	StaleBefore      *time.Time
	Issued           *bool
	MaxIssueAttempts *int32 // exclusive
}

type Repository interface {
	Insert(ctx context.Context, invoice *Invoice) (*Invoice, error)
	InsertBatch(ctx context.Context, invoices []*Invoice) ([]*Invoice, error)
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, tenantID snowflake.ID, filter ListFilter, page pagination.Pagination) (pagination.Page[Invoice], error)
	ListByCursor(ctx context.Context, predicate CursorPredicate, page pagination.Pagination) (pagination.Page[Invoice], error)
	ListToPrice(ctx context.Context, today, staleBefore time.Time, page pagination.Pagination) (pagination.Page[Invoice], error)
	ListPendingCandidates(ctx context.Context, now time.Time, page pagination.Pagination) (pagination.Page[Invoice], error)
	ListToFinalize(ctx context.Context, now time.Time, page pagination.Pagination) (pagination.Page[Invoice], error)
	ListToIssue(ctx context.Context, maxAttempts int32, page pagination.Pagination) (pagination.Page[Invoice], error)
	ExistsForDate(ctx context.Context, tenantID, subscriptionID snowflake.ID, invoiceType InvoiceType, invoiceDate time.Time) (bool, error)

	// UpdateLines overwrites line items and totals while the invoice is still mutable.
	UpdateLines(ctx context.Context, tenantID, id snowflake.ID, lines []LineItem, now time.Time) (bool, error)
	// UpdateStatusConditional moves expected to next only if the row is still in expected.
	UpdateStatusConditional(ctx context.Context, tenantID, id snowflake.ID, expected, next Status, now time.Time) (bool, error)
	Finalize(ctx context.Context, tenantID, id snowflake.ID, lines []LineItem, now time.Time) (bool, error)
	RecordIssueAttempt(ctx context.Context, tenantID, id snowflake.ID, attempt IssueAttempt) (bool, error)
	UpdateExternalStatus(ctx context.Context, tenantID, id snowflake.ID, status ExternalStatus, now time.Time) error
}

// IssueAttempt is the outcome of one issuance call.
type IssueAttempt struct {
	Success           bool
	Error             string
	ExternalInvoiceID string
	At                time.Time
}
