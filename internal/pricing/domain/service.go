// Package domain declares the pricing engine contract.
package domain

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

var (
	ErrUnknownFee       = errors.New("pricing_unknown_fee")
	ErrEmptyMatrix      = errors.New("pricing_empty_matrix")
	ErrUnsupportedModel = errors.New("pricing_unsupported_usage_model")
)

// Input is everything needed to price one invoice. Currency defaults to the
// subscription currency.
type Input struct {
	Subscription subscriptiondomain.Subscription
	Components   []subscriptiondomain.SubscriptionComponent
	InvoiceDate  time.Time
	Currency     string
}

type Engine interface {
	// ComputeLines returns the ordered line items for one invoice date. The
	// result depends only on the input and the usage source.
	ComputeLines(ctx context.Context, in Input) ([]invoicedomain.LineItem, error)
	// PriceInvoice loads the invoice's subscription and components and computes its lines.
	PriceInvoice(ctx context.Context, invoice *invoicedomain.Invoice) ([]invoicedomain.LineItem, error)
}
