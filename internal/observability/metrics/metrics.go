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

// Metrics holds the OAuth domain counters. Attributes are filtered to a
// fixed key set so client and user identifiers never become labels.
type Metrics struct {
	tokensIssued     metric.Int64Counter
	grantFailures    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	permissionCache  metric.Int64Counter
	refreshReuse     metric.Int64Counter
	revocations      metric.Int64Counter
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

// New creates the domain counters on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "gatekeeper"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	instruments := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.tokensIssued, "gatekeeper_tokens_issued_total", "Tokens minted by grant type and kind."},
		{&m.grantFailures, "gatekeeper_grant_failures_total", "Token endpoint failures by OAuth error code."},
		{&m.rateLimitAllowed, "gatekeeper_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "gatekeeper_rate_limit_denied_total", "Requests rejected by the rate limiter."},
		{&m.permissionCache, "gatekeeper_permission_cache_events_total", "Permission cache hits, misses and invalidations."},
		{&m.refreshReuse, "gatekeeper_refresh_token_reuse_total", "Rotated refresh tokens presented again."},
		{&m.revocations, "gatekeeper_revocations_total", "Revocation requests by detected token kind."},
	}
	for _, inst := range instruments {
		counter, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", inst.name, err)
		}
		*inst.target = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	for i, attr := range attrs {
		attrs[i] = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType, tokenKind string) {
	if m == nil {
		return
	}
	m.add(ctx, m.tokensIssued, attribute.String("grant_type", grantType), attribute.String("token_kind", tokenKind))
}

// RecordGrantFailure counts by the code returned to the client, not the
// internal reason.
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, errorCode string) {
	if m == nil {
		return
	}
	m.add(ctx, m.grantFailures, attribute.String("grant_type", grantType), attribute.String("error_code", errorCode))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitAllowed, attribute.String("endpoint", endpoint))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.rateLimitDenied, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
}

// RecordPermissionCache takes one of hit, miss, invalidate.
func (m *Metrics) RecordPermissionCache(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.add(ctx, m.permissionCache, attribute.String("event", event))
}

func (m *Metrics) RecordRefreshReuse(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.add(ctx, m.refreshReuse, attribute.String("policy", policy))
}

func (m *Metrics) RecordRevocation(ctx context.Context, tokenKind string) {
	if m == nil {
		return
	}
	m.add(ctx, m.revocations, attribute.String("token_kind", tokenKind))
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
	"endpoint":    {},
	"status_code": {},
	"grant_type":  {},
	"token_kind":  {},
	"error_code":  {},
	"event":       {},
	"policy":      {},
	"reason":      {},
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
