package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("client_id", "web"),
		attribute.String("user_id", "42"),
		attribute.String("grant_type", "refresh_token"),
		attribute.String("error_code", "invalid_grant"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "client_id" || attr.Key == "user_id" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordTokenIssued(ctx, "authorization_code", "access_token")
	m.RecordGrantFailure(ctx, "refresh_token", "invalid_grant")
	m.RecordPermissionCache(ctx, "hit")

	var nilMetrics *Metrics
	nilMetrics.RecordRateLimitDenied(ctx, "/oauth/token", "exceeded")
}

func TestRecordTokenIssuedExportsTrimmedAttributes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "gatekeeper"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordTokenIssued(ctx, " refresh_token ", "access_token")
	m.RecordTokenIssued(ctx, "refresh_token", "access_token")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, got := range scope.Metrics {
			if got.Name != "gatekeeper_tokens_issued_total" {
				continue
			}
			sum, ok := got.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("expected one data point, got %+v", got.Data)
			}
			point := sum.DataPoints[0]
			if point.Value != 2 {
				t.Fatalf("expected 2 tokens, got %d", point.Value)
			}
			if v, _ := point.Attributes.Value("grant_type"); v.AsString() != "refresh_token" {
				t.Fatalf("unexpected grant_type %q", v.AsString())
			}
			return
		}
	}
	t.Fatal("tokens issued counter not exported")
}
