package migration

import (
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.MigrateOnStart {
			log.Info("migrations.skipped", zap.String("reason", "disabled"))
			return nil
		}

		driver, err := db.Driver(cfg)
		if err != nil {
			return err
		}
		if driver != db.DriverPostgres {
			log.Info("migrations.auto", zap.String("driver", driver))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
