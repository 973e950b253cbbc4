package issuer

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/billingcore/internal/errs"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
)

type failingIssuer struct{}

func (failingIssuer) Provider() string { return "Acme" }

func (failingIssuer) Issue(context.Context, *invoicedomain.Invoice) (Result, error) {
	return Result{}, errors.New("acme unavailable")
}

func TestRegistryRoutesByProvider(t *testing.T) {
	registry := NewRegistry(Params{Log: zap.NewNop()}, failingIssuer{})
	ctx := context.Background()

	res, err := registry.Issue(ctx, &invoicedomain.Invoice{ID: snowflake.ID(42), InvoicingProvider: "manual"})
	require.NoError(t, err)
	assert.Equal(t, "man_42", res.ExternalInvoiceID)

	res, err = registry.Issue(ctx, &invoicedomain.Invoice{ID: snowflake.ID(43)})
	require.NoError(t, err)
	assert.Equal(t, "man_43", res.ExternalInvoiceID, "empty provider defaults to manual")

	_, err = registry.Issue(ctx, &invoicedomain.Invoice{ID: snowflake.ID(44), InvoicingProvider: " ACME "})
	assert.EqualError(t, err, "acme unavailable")
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	registry := NewRegistry(Params{Log: zap.NewNop()})

	_, err := registry.Issue(context.Background(), &invoicedomain.Invoice{ID: snowflake.ID(1), InvoicingProvider: "stripe"})
	require.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestManualIssuerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewManualIssuer().Issue(ctx, &invoicedomain.Invoice{ID: snowflake.ID(1)})
	assert.ErrorIs(t, err, context.Canceled)
}
