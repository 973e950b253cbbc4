package config

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// JobConfig tunes one lifecycle worker.
type JobConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule" validate:"required"`
	BatchSize int           `mapstructure:"batch_size" validate:"gte=1,lte=1000"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// WorkerConfig is the hot-reloadable lifecycle worker configuration.
type WorkerConfig struct {
	LookbackDays        int           `mapstructure:"lookback_days" validate:"gte=1,lte=366"`
	MaxIssueAttempts    int           `mapstructure:"max_issue_attempts" validate:"gte=1"`
	ExternalCallTimeout time.Duration `mapstructure:"external_call_timeout" validate:"gt=0"`
	RepriceInterval     time.Duration `mapstructure:"reprice_interval" validate:"gte=0"`
	LockTTL             time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	// IssueRate caps issuance calls per provider per second. Zero disables the cap.
	IssueRate  float64 `mapstructure:"issue_rate" validate:"gte=0"`
	IssueBurst int     `mapstructure:"issue_burst" validate:"gte=1"`

	Draft    JobConfig `mapstructure:"draft"`
	Price    JobConfig `mapstructure:"price"`
	Pending  JobConfig `mapstructure:"pending"`
	Finalize JobConfig `mapstructure:"finalize"`
	Issue    JobConfig `mapstructure:"issue"`
}

func DefaultWorkerConfig() WorkerConfig {
	job := func(schedule string, batch int) JobConfig {
		return JobConfig{Enabled: true, Schedule: schedule, BatchSize: batch, Timeout: 5 * time.Minute}
	}
	return WorkerConfig{
		LookbackDays:        7,
		MaxIssueAttempts:    5,
		ExternalCallTimeout: 5 * time.Second,
		RepriceInterval:     time.Hour,
		LockTTL:             10 * time.Minute,
		IssueRate:           10,
		IssueBurst:          20,
		Draft:               job("@every 1m", 100),
		Price:               job("@every 1m", 50),
		Pending:             job("@every 5m", 100),
		Finalize:            job("@every 5m", 50),
		Issue:               job("@every 1m", 25),
	}
}

// Job returns the tuning for the named worker.
func (c WorkerConfig) Job(name string) (JobConfig, bool) {
	switch name {
	case "draft":
		return c.Draft, true
	case "price":
		return c.Price, true
	case "pending":
		return c.Pending, true
	case "finalize":
		return c.Finalize, true
	case "issue":
		return c.Issue, true
	default:
		return JobConfig{}, false
	}
}

var workerValidator = validator.New()

func ValidateWorkerConfig(cfg WorkerConfig) error {
	return workerValidator.Struct(cfg)
}

type WorkerConfigHolder struct {
	current atomic.Value // holds WorkerConfig
}

// NewStaticWorkerConfigHolder pins cfg without file watching.
func NewStaticWorkerConfigHolder(cfg WorkerConfig) *WorkerConfigHolder {
	holder := &WorkerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewWorkerConfigHolder(cfg Config, log *zap.Logger) (*WorkerConfigHolder, error) {
	log = log.Named("config.workers")
	v := viper.New()

	if cfg.WorkerConfigPath != "" {
		v.SetConfigFile(cfg.WorkerConfigPath)
	} else {
		v.SetConfigName("billing-workers")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/billingcore")
		v.AddConfigPath(".")
	}

	defaults := DefaultWorkerConfig()
	setWorkerDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("worker config file not found, using defaults")
	}

	current, err := decodeWorkerConfig(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkerConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticWorkerConfigHolder(current)

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeWorkerConfig(v)
			if err != nil {
				log.Warn("worker config reload failed", zap.Error(err))
				return
			}
			if err := ValidateWorkerConfig(updated); err != nil {
				log.Warn("invalid worker config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("worker config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *WorkerConfigHolder) Get() WorkerConfig {
	return h.current.Load().(WorkerConfig)
}

// decodeWorkerConfig unmarshals from the merged settings so file values
// override defaults key by key.
func decodeWorkerConfig(v *viper.Viper) (WorkerConfig, error) {
	var wrapper struct {
		Workers WorkerConfig `mapstructure:"workers"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return WorkerConfig{}, err
	}
	return wrapper.Workers, nil
}

func setWorkerDefaults(v *viper.Viper, d WorkerConfig) {
	v.SetDefault("workers.lookback_days", d.LookbackDays)
	v.SetDefault("workers.max_issue_attempts", d.MaxIssueAttempts)
	v.SetDefault("workers.external_call_timeout", d.ExternalCallTimeout)
	v.SetDefault("workers.reprice_interval", d.RepriceInterval)
	v.SetDefault("workers.lock_ttl", d.LockTTL)
	v.SetDefault("workers.issue_rate", d.IssueRate)
	v.SetDefault("workers.issue_burst", d.IssueBurst)
	for name, job := range map[string]JobConfig{
		"draft":    d.Draft,
		"price":    d.Price,
		"pending":  d.Pending,
		"finalize": d.Finalize,
		"issue":    d.Issue,
	} {
		v.SetDefault("workers."+name+".enabled", job.Enabled)
		v.SetDefault("workers."+name+".schedule", job.Schedule)
		v.SetDefault("workers."+name+".batch_size", job.BatchSize)
		v.SetDefault("workers."+name+".timeout", job.Timeout)
	}
}
