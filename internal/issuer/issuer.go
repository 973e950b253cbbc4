// Package issuer pushes finalized invoices to external invoicing providers.
package issuer

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/errs"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

const ProviderManual = "manual"

var ErrUnknownProvider = errors.New("issuer_unknown_provider")

// Result is what a provider returns for an issued invoice.
type Result struct {
	ExternalInvoiceID string
}

type Issuer interface {
	Provider() string
	Issue(ctx context.Context, invoice *invoicedomain.Invoice) (Result, error)
}

// Registry routes invoices to the issuer named by their invoicing provider.
type Registry struct {
	log     *zap.Logger
	issuers map[string]Issuer
}

type Params struct {
	fx.In

	Log *zap.Logger
}

// NewRegistry registers the manual issuer plus any extra issuers given.
func NewRegistry(p Params, extra ...Issuer) *Registry {
	r := &Registry{
		log:     p.Log.Named("issuer.registry"),
		issuers: make(map[string]Issuer),
	}
	r.Register(NewManualIssuer())
	for _, iss := range extra {
		r.Register(iss)
	}
	return r
}

func (r *Registry) Register(iss Issuer) {
	r.issuers[normalize(iss.Provider())] = iss
}

func (r *Registry) Issue(ctx context.Context, invoice *invoicedomain.Invoice) (Result, error) {
	provider := normalize(invoice.InvoicingProvider)
	if provider == "" {
		provider = ProviderManual
	}
	iss, ok := r.issuers[provider]
	if !ok {
		r.log.Warn("issuer.unknown_provider",
			zap.String("provider", invoice.InvoicingProvider),
			zap.String("invoice_id", invoice.ID.String()),
		)
		return Result{}, errs.Wrap(errs.KindInvalidArgument, "issuer.issue", ErrUnknownProvider)
	}
	return iss.Issue(ctx, invoice)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
