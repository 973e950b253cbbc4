package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallbiznis/billingcore/internal/config"
)

func TestLoadConfigNamesServicePerMode(t *testing.T) {
	base := config.Config{AppName: "billingcore", Mode: config.ModeStandalone}
	assert.Equal(t, "billingcore", LoadConfig(base).ServiceName)

	base.Mode = config.ModeWorker
	assert.Equal(t, "billingcore-worker", LoadConfig(base).ServiceName)

	base.Mode = config.ModeAPI
	base.AppName = ""
	assert.Equal(t, "billingcore-api", LoadConfig(base).ServiceName)
}

func TestLoadConfigNormalizesExporter(t *testing.T) {
	cfg := LoadConfig(config.Config{
		OtelEnabled:       true,
		OTLPProtocol:      "HTTP/protobuf",
		OtelSamplingRatio: 3,
	})
	assert.False(t, cfg.OtelEnabled, "no endpoint")
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	cfg = LoadConfig(config.Config{
		OtelEnabled:       true,
		OTLPEndpoint:      " collector:4318 ",
		OTLPProtocol:      "",
		OtelSamplingRatio: -1,
	})
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Zero(t, cfg.OtelSamplingRatio)
}

func TestDebugFollowsLevelOrEnvironment(t *testing.T) {
	assert.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	assert.True(t, Config{LogLevel: "info", Environment: "Local"}.Debug())
	assert.False(t, Config{LogLevel: "info", Environment: "production"}.Debug())
}

func TestConfigFeedsProviders(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:           "billingcore",
		AppVersion:        "1.2.0",
		Mode:              config.ModeWorker,
		Environment:       "production",
		LogLevel:          "warn",
		OtelEnabled:       true,
		OTLPEndpoint:      "collector:4317",
		OtelSamplingRatio: 0.25,
	})

	log := cfg.Logger()
	assert.Equal(t, "billingcore-worker", log.ServiceName)
	assert.Equal(t, "warn", log.Level)
	assert.False(t, log.IncludeStackOnError)

	tr := cfg.Tracing()
	assert.True(t, tr.Enabled)
	assert.Equal(t, "1.2.0", tr.ServiceVersion)
	assert.Equal(t, 0.25, tr.SamplingRatio)

	m := cfg.Metrics()
	assert.Equal(t, "collector:4317", m.ExporterEndpoint)
	assert.Equal(t, "grpc", m.ExporterProtocol)
}
