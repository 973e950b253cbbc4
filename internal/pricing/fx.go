package pricing

import (
	"go.uber.org/fx"

	pricingdomain "github.com/smallbiznis/billingcore/internal/pricing/domain"
	"github.com/smallbiznis/billingcore/internal/pricing/service"
)

var Module = fx.Module("pricing.engine",
	fx.Provide(
		service.NewEngine,
		func(e *service.Engine) pricingdomain.Engine { return e },
	),
)
