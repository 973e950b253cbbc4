package plan

import (
	"github.com/smallbiznis/billingcore/internal/plan/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.repository",
	fx.Provide(repository.Provide),
	fx.Invoke(importCatalogOnStart),
)
