package eventbus

import (
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/config"
)

var Module = fx.Module("eventbus",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

// New picks the driver named by EVENTBUS_DRIVER. A redis driver without a
// Redis client degrades to the log driver.
func New(p Params) Publisher {
	log := p.Log.Named("eventbus")
	switch p.Cfg.EventBusDriver {
	case DriverRedis:
		if p.Redis != nil {
			return NewRedisPublisher(p.Redis, p.Cfg.EventBusChannel)
		}
		log.Warn("eventbus.redis_unavailable", zap.String("fallback", DriverLog))
	case DriverOutbox:
		return NewOutboxPublisher(p.DB, p.Node)
	case DriverLog, "":
	default:
		log.Warn("eventbus.unknown_driver", zap.String("driver", p.Cfg.EventBusDriver))
	}
	return NewLogPublisher(p.Log)
}
