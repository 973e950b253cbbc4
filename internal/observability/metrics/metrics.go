package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes invoice lifecycle instruments exported over OTLP.
type Metrics struct {
	invoicesCreated   metric.Int64Counter
	invoicesFinalized metric.Int64Counter
	issueAttempts     metric.Int64Counter
	mrrDelta          metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billingcore"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("billingcore_invoices_created_total")
	if err != nil {
		return nil, err
	}
	invoicesFinalized, err := meter.Int64Counter("billingcore_invoices_finalized_total")
	if err != nil {
		return nil, err
	}
	issueAttempts, err := meter.Int64Counter("billingcore_invoice_issue_attempts_total")
	if err != nil {
		return nil, err
	}
	mrrDelta, err := meter.Int64Counter("billingcore_mrr_delta_cents")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:   invoicesCreated,
		invoicesFinalized: invoicesFinalized,
		issueAttempts:     issueAttempts,
		mrrDelta:          mrrDelta,
	}, nil
}

// RecordInvoiceCreated counts invoices inserted by type.
func (m *Metrics) RecordInvoiceCreated(ctx context.Context, invoiceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("invoice_type", strings.TrimSpace(invoiceType)))
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceFinalized counts finalized invoices by currency.
func (m *Metrics) RecordInvoiceFinalized(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.TrimSpace(currency)))
	m.invoicesFinalized.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIssueAttempt counts external issuance attempts by provider and outcome.
func (m *Metrics) RecordIssueAttempt(ctx context.Context, provider string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", outcome),
	)
	m.issueAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMRRDelta accumulates the absolute MRR movement per movement type.
func (m *Metrics) RecordMRRDelta(ctx context.Context, movementType, currency string, deltaCents int64) {
	if m == nil || deltaCents == 0 {
		return
	}
	if deltaCents < 0 {
		deltaCents = -deltaCents
	}
	attrs := FilterAttributes(
		attribute.String("movement_type", strings.TrimSpace(movementType)),
		attribute.String("currency", strings.TrimSpace(currency)),
	)
	m.mrrDelta.Add(ctx, deltaCents, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"invoice_type":  {},
	"currency":      {},
	"provider":      {},
	"outcome":       {},
	"movement_type": {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
