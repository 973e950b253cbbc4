package mrr

import (
	"go.uber.org/fx"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/mrr/service"
)

var Module = fx.Module("mrr.deriver",
	fx.Provide(
		service.NewDeriver,
		func(d *service.Deriver) invoicedomain.LedgerDeriver { return d },
	),
)
