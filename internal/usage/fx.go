package usage

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/internal/usage/source"
)

var Module = fx.Module("usage.source",
	fx.Provide(NewSource),
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Redis  *redis.Client `optional:"true"`
	Logger *zap.Logger
}

// NewSource reads from the database, with slot counts cached when Redis is configured.
func NewSource(p Params) usagedomain.Source {
	db := source.NewDBSource(p.DB)
	if p.Redis == nil {
		return db
	}
	return source.NewCachedSource(db, p.Redis, 0, p.Logger)
}
