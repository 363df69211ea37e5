package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/config"
	gormlogger "gorm.io/gorm/logger"
)

// Config is the observability view of the process configuration. The
// OpenTelemetry environment variables take precedence over application
// settings so collectors can be pointed elsewhere without a redeploy.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel         string
	LogFormat        string
	LogSampleInitial int
	LogSampleAfter   int
	SQLLogLevel      gormlogger.LogLevel
	SQLSlowThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "gatekeeper"
	}

	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	return Config{
		ServiceName:          serviceName,
		Environment:          getenv("DEPLOYMENT_ENV", cfg.Environment),
		Version:              getenv("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getenv("LOG_FORMAT", "json")),
		LogSampleInitial:     getenvInt("LOG_SAMPLE_INITIAL", 100),
		LogSampleAfter:       getenvInt("LOG_SAMPLE_THEREAFTER", 100),
		SQLLogLevel:          parseSQLLevel(getenv("DB_LOG_LEVEL", "warn")),
		SQLSlowThreshold:     getenvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		OtelEnabled:          getenvBool("OTEL_ENABLED", endpoint != ""),
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug reports whether verbose request logging applies.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func parseSQLLevel(value string) gormlogger.LogLevel {
	switch strings.ToLower(value) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func getenvBool(key string, def bool) bool {
	if parsed, err := strconv.ParseBool(getenv(key, "")); err == nil {
		return parsed
	}
	return def
}

func getenvInt(key string, def int) int {
	if parsed, err := strconv.Atoi(getenv(key, "")); err == nil && parsed > 0 {
		return parsed
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if parsed, err := strconv.ParseFloat(getenv(key, ""), 64); err == nil {
		return parsed
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(getenv(key, "")); err == nil && parsed >= 0 {
		return parsed
	}
	return def
}
