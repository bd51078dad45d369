package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/ordersync/internal/config"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds the logging, tracing and query-logging settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel           string
	LogFormat          string
	LogSampleInitial   int
	LogSampleAfter     int
	SlowQueryThreshold time.Duration
	SQLLogLevel        gormlogger.LogLevel

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "ordersync"
	}

	protocol := lower(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := lower(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          envString("DEPLOYMENT_ENV", cfg.Environment),
		Version:              envString("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             lower(envString("LOG_LEVEL", "info")),
		LogFormat:            lower(envString("LOG_FORMAT", "json")),
		LogSampleInitial:     envParse("LOG_SAMPLE_INITIAL", 100, strconv.Atoi),
		LogSampleAfter:       envParse("LOG_SAMPLE_THEREAFTER", 100, strconv.Atoi),
		SlowQueryThreshold:   envParse("DB_SLOW_QUERY_THRESHOLD", 500*time.Millisecond, time.ParseDuration),
		SQLLogLevel:          sqlLogLevel(envString("DB_LOG_LEVEL", "warn")),
		OtelEnabled:          envParse("OTEL_ENABLED", cfg.IsProduction(), parseSwitch),
		OtelExporterEndpoint: envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    envParse("OTEL_SAMPLING_RATIO", 1.0, parseFloat),
	}
}

// Debug switches on development encoders and stack traces.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func sqlLogLevel(raw string) gormlogger.LogLevel {
	switch lower(raw) {
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

func envString(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

// envParse returns def when key is unset or does not parse.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := parse(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseSwitch(value string) (bool, error) {
	switch lower(value) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return strconv.ParseBool(value)
	}
}

func parseFloat(value string) (float64, error) {
	return strconv.ParseFloat(value, 64)
}

func lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
