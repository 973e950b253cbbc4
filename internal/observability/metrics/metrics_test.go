package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("currency", "EUR"),
		attribute.String("invoice_id", "456"),
		attribute.String("movement_type", "CHURN"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "currency" && attrs[1].Key != "currency" {
		t.Fatalf("expected currency to be retained")
	}
	if attrs[0].Key != "movement_type" && attrs[1].Key != "movement_type" {
		t.Fatalf("expected movement_type to be retained")
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordInvoiceCreated(context.Background(), "RECURRING")
	m.RecordMRRDelta(context.Background(), "CHURN", "EUR", -5000)
}
