// Package domain contains persistence models and the status machine for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceType string

const (
	InvoiceTypeRecurring      InvoiceType = "RECURRING"
	InvoiceTypeOneOff         InvoiceType = "ONE_OFF"
	InvoiceTypeAdjustment     InvoiceType = "ADJUSTMENT"
	InvoiceTypeUsageThreshold InvoiceType = "USAGE_THRESHOLD"
)

func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeRecurring, InvoiceTypeOneOff, InvoiceTypeAdjustment, InvoiceTypeUsageThreshold:
		return true
	}
	return false
}

// MovesMrr reports whether inserting an invoice of this type derives MRR movements.
func (t InvoiceType) MovesMrr() bool {
	return t == InvoiceTypeRecurring || t == InvoiceTypeAdjustment
}

// ExternalStatus is the invoicing provider's view of an issued invoice.
type ExternalStatus string

const (
	ExternalStatusPending       ExternalStatus = "PENDING"
	ExternalStatusPaid          ExternalStatus = "PAID"
	ExternalStatusPaymentFailed ExternalStatus = "PAYMENT_FAILED"
	ExternalStatusUncollectible ExternalStatus = "UNCOLLECTIBLE"
	ExternalStatusVoid          ExternalStatus = "VOID"
)

func (s ExternalStatus) Valid() bool {
	switch s {
	case ExternalStatusPending, ExternalStatusPaid, ExternalStatusPaymentFailed, ExternalStatusUncollectible, ExternalStatusVoid:
		return true
	}
	return false
}

const DefaultInvoicingProvider = "manual"

// Invoice is one billing document for one subscription period. LineItems
// holds the ordered line item document.
type Invoice struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID           snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	CustomerID         snowflake.ID    `gorm:"not null;index" json:"customer_id"`
	SubscriptionID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoice_recurring_date,where:invoice_type = 'RECURRING'" json:"subscription_id"`
	PlanVersionID      snowflake.ID    `gorm:"not null" json:"plan_version_id"`
	InvoiceType        InvoiceType     `gorm:"type:text;not null" json:"invoice_type"`
	Status             Status          `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	ExternalStatus     *ExternalStatus `gorm:"type:text" json:"external_status,omitempty"`
	Currency           string          `gorm:"type:text;not null" json:"currency"`
	InvoiceDate        time.Time       `gorm:"type:date;not null;uniqueIndex:ux_invoice_recurring_date,where:invoice_type = 'RECURRING'" json:"invoice_date"`
	LineItems          datatypes.JSON  `gorm:"type:jsonb;not null" json:"line_items"`
	Subtotal           int64           `gorm:"not null;default:0" json:"subtotal"`
	Tax                int64           `gorm:"not null;default:0" json:"tax"`
	Total              int64           `gorm:"not null;default:0" json:"total"`
	AmountCents        int64           `gorm:"not null;default:0" json:"amount_cents"`
	Issued             bool            `gorm:"not null;default:false" json:"issued"`
	IssueAttempts      int32           `gorm:"not null;default:0" json:"issue_attempts"`
	LastIssueAttemptAt *time.Time      `gorm:"" json:"last_issue_attempt_at,omitempty"`
	LastIssueError     *string         `gorm:"type:text" json:"last_issue_error,omitempty"`
	InvoicingProvider  string          `gorm:"type:text;not null;default:'manual'" json:"invoicing_provider"`
	ExternalInvoiceID  *string         `gorm:"type:text" json:"external_invoice_id,omitempty"`
	DaysUntilDue       int32           `gorm:"not null;default:0" json:"days_until_due"`
	DueAt              *time.Time      `gorm:"" json:"due_at,omitempty"`
	FinalizedAt        *time.Time      `gorm:"" json:"finalized_at,omitempty"`
	DataUpdatedAt      *time.Time      `gorm:"" json:"data_updated_at,omitempty"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Lines decodes the stored line items.
func (i Invoice) Lines() ([]LineItem, error) {
	return DecodeLines(i.LineItems)
}

func (i Invoice) IssuanceState() IssuanceState {
	switch {
	case i.Issued:
		return IssuanceIssued
	case i.IssueAttempts > 0:
		return IssuanceFailed
	default:
		return IssuanceNotIssued
	}
}

// GraceEnds is when the invoice becomes ready to finalize.
func (i Invoice) GraceEnds(grace time.Duration) time.Time {
	return i.InvoiceDate.Add(grace)
}

type IssuanceState string

const (
	IssuanceNotIssued IssuanceState = "NOT_ISSUED"
	IssuanceFailed    IssuanceState = "ISSUE_FAILED"
	IssuanceIssued    IssuanceState = "ISSUED"
)
