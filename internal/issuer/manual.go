package issuer

import (
	"context"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

// ManualIssuer marks invoices as issued for tenants that send invoices
// themselves. The external id is derived from the invoice id.
type ManualIssuer struct{}

func NewManualIssuer() *ManualIssuer { return &ManualIssuer{} }

func (*ManualIssuer) Provider() string { return ProviderManual }

func (*ManualIssuer) Issue(ctx context.Context, invoice *invoicedomain.Invoice) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{ExternalInvoiceID: "man_" + invoice.ID.String()}, nil
}
