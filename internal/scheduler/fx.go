package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/smallbiznis/billingcore/internal/config"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
	fx.Provide(NewRunner),
	fx.Invoke(registerRunner),
)

func registerRunner(lc fx.Lifecycle, cfg config.Config, runner *Runner) {
	if !cfg.RunsWorkers() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return runner.Start() },
		OnStop:  runner.Stop,
	})
}
