package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	InstanceID  string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis        RedisConfig
	StepExecutor StepExecutorConfig
	TaskQueue    TaskQueueConfig
	SMTP         SMTPConfig
	MetricsPush  MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StepExecutorConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type TaskQueueConfig struct {
	Mode            string
	Workers         int
	Buffer          int
	PubSubProjectID string
	PubSubTopic     string
	PubSubCredJSON  string
	PubSubPushToken string
}

// SMTPConfig is the fallback mail server used when a user has no stored credentials.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	SecretKey string
}

func (c SMTPConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != "" && c.Port > 0
}

type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

const (
	QueueModeLocal  = "local"
	QueueModeInline = "inline"
	QueueModePubSub = "pubsub"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "ordersync"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		InstanceID:   getenv("INSTANCE_ID", hostname()),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		StepExecutor: StepExecutorConfig{
			URL:     strings.TrimSpace(getenv("STEP_EXECUTOR_URL", "")),
			Token:   strings.TrimSpace(getenv("STEP_EXECUTOR_TOKEN", "")),
			Timeout: getenvDuration("STEP_EXECUTOR_TIMEOUT", 60*time.Second),
		},
		TaskQueue: TaskQueueConfig{
			Mode:            normalizeQueueMode(getenv("TASK_QUEUE_MODE", QueueModeLocal)),
			Workers:         getenvInt("TASK_QUEUE_WORKERS", 4),
			Buffer:          getenvInt("TASK_QUEUE_BUFFER", 256),
			PubSubProjectID: strings.TrimSpace(firstEnv("PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT")),
			PubSubTopic:     getenv("PUBSUB_TOPIC", "ordersync-tasks"),
			PubSubCredJSON:  os.Getenv("PUBSUB_CREDENTIALS_JSON"),
			PubSubPushToken: strings.TrimSpace(getenv("PUBSUB_PUSH_TOKEN", "")),
		},
		SMTP: SMTPConfig{
			Host:      strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:      getenvInt("SMTP_PORT", 587),
			Username:  strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			Password:  getenv("SMTP_PASSWORD", ""),
			From:      strings.TrimSpace(getenv("SMTP_FROM", "")),
			SecretKey: strings.TrimSpace(getenv("SMTP_SECRET_KEY", "")),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeQueueMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case QueueModeInline:
		return QueueModeInline
	case QueueModePubSub:
		return QueueModePubSub
	default:
		return QueueModeLocal
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "ordersync"
	}
	return name
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// bare integers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
