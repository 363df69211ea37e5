package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/gatekeeper/internal/observability/logger"
	"github.com/smallbiznis/gatekeeper/internal/observability/metrics"
	"github.com/smallbiznis/gatekeeper/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	loggingModule,
	tracingModule,
	metricsModule,
)

var loggingModule = fx.Options(
	fx.Provide(
		func(cfg Config) logger.Config {
			return logger.Config{
				ServiceName:         cfg.ServiceName,
				Environment:         cfg.Environment,
				Version:             cfg.Version,
				Level:               cfg.LogLevel,
				Format:              cfg.LogFormat,
				Debug:               cfg.Debug(),
				SamplingInitial:     cfg.LogSampleInitial,
				SamplingThereafter:  cfg.LogSampleAfter,
				IncludeCaller:       true,
				IncludeStackOnError: cfg.Debug(),
			}
		},
		logger.New,
		func(cfg Config, log *zap.Logger) logger.GormLoggerConfig {
			return logger.GormLoggerConfig{
				Level:                cfg.SQLLogLevel,
				SlowThreshold:        cfg.SQLSlowThreshold,
				IgnoreRecordNotFound: true,
				Base:                 log.Named("store"),
			}
		},
	),
)

// The tracer provider is forced at startup so spans exist before the
// first request, even though nothing injects it directly.
var tracingModule = fx.Options(
	fx.Provide(
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:          cfg.OtelEnabled,
				ServiceName:      cfg.ServiceName,
				ServiceVersion:   cfg.Version,
				Environment:      cfg.Environment,
				ExporterEndpoint: cfg.OtelExporterEndpoint,
				ExporterProtocol: cfg.OtelExporterProtocol,
				SamplingRatio:    cfg.OtelSamplingRatio,
			}
		},
		tracing.NewProvider,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

var metricsModule = fx.Options(
	fx.Provide(
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.OtelEnabled,
				ExporterEndpoint: cfg.OtelExporterEndpoint,
				ExporterProtocol: cfg.OtelExporterProtocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		func(cfg metrics.Config) (*metrics.JanitorMetrics, error) {
			return metrics.NewJanitorMetrics(prometheus.DefaultRegisterer, cfg)
		},
	),
)
