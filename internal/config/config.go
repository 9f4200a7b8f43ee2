package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	Observability ObservabilityConfig

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
	DBAutoMigrate     bool

	SeedPlanCatalog bool

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Gateway      GatewayConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig

	BillingPolicyPath string
}

// ObservabilityConfig tunes logging and trace export.
type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds usage ingestion per tenant. Requires redis.
type RateLimitConfig struct {
	Enabled    bool
	UsageRate  float64
	UsageBurst int
}

// GatewayConfig configures the external payment processor.
type GatewayConfig struct {
	Provider         string
	SecretKey        string
	WebhookSecret    string
	APIBaseURL       string
	Timeout          time.Duration
	WebhookTolerance time.Duration
}

type SchedulerConfig struct {
	Enabled     bool
	EnabledJobs []string
	BatchSize   int
	JobTimeout  time.Duration
	LockTTL     time.Duration

	TrialSweepInterval         time.Duration
	InvoiceGenerationInterval  time.Duration
	UsageAggregationInterval   time.Duration
	PastDueResyncInterval      time.Duration
	TrialEndingWarningInterval time.Duration
	PaymentReminderInterval    time.Duration
}

type NotificationConfig struct {
	QueueKey      string
	WorkerEnabled bool
	PollTimeout   time.Duration
	MaxAttempts   int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	otlpEndpoint := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "")))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "tenantbill"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: otlpEndpoint,
		Observability: ObservabilityConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", otlpEndpoint != ""),
			OtelProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tenantbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		SeedPlanCatalog:   getenvBool("SEED_PLAN_CATALOG", true),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", false),
			UsageRate:  getenvFloat("RATE_LIMIT_USAGE_RATE", 50),
			UsageBurst: getenvInt("RATE_LIMIT_USAGE_BURST", 100),
		},
		Gateway: GatewayConfig{
			Provider:         strings.ToLower(strings.TrimSpace(getenv("GATEWAY_PROVIDER", "stripe"))),
			SecretKey:        strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			APIBaseURL:       strings.TrimSpace(getenv("STRIPE_API_BASE_URL", "")),
			Timeout:          getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			WebhookTolerance: getenvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:                    getenvBool("SCHEDULER_ENABLED", true),
			EnabledJobs:                parseList(getenv("SCHEDULER_JOBS", "")),
			BatchSize:                  getenvInt("SCHEDULER_BATCH_SIZE", 100),
			JobTimeout:                 getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
			LockTTL:                    getenvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
			TrialSweepInterval:         getenvDuration("SCHEDULER_TRIAL_SWEEP_INTERVAL", time.Hour),
			InvoiceGenerationInterval:  getenvDuration("SCHEDULER_INVOICE_INTERVAL", time.Hour),
			UsageAggregationInterval:   getenvDuration("SCHEDULER_USAGE_INTERVAL", 6*time.Hour),
			PastDueResyncInterval:      getenvDuration("SCHEDULER_PAST_DUE_INTERVAL", 6*time.Hour),
			TrialEndingWarningInterval: getenvDuration("SCHEDULER_TRIAL_WARNING_INTERVAL", 24*time.Hour),
			PaymentReminderInterval:    getenvDuration("SCHEDULER_PAYMENT_REMINDER_INTERVAL", 24*time.Hour),
		},
		Notification: NotificationConfig{
			QueueKey:      getenv("NOTIFICATION_QUEUE_KEY", "tenantbill:notifications"),
			WorkerEnabled: getenvBool("NOTIFICATION_WORKER_ENABLED", true),
			PollTimeout:   getenvDuration("NOTIFICATION_POLL_TIMEOUT", 5*time.Second),
			MaxAttempts:   getenvInt("NOTIFICATION_MAX_ATTEMPTS", 3),
			SMTPHost:      strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:      getenvInt("SMTP_PORT", 587),
			SMTPUsername:  strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword:  getenv("SMTP_PASSWORD", ""),
			SMTPFrom:      getenv("SMTP_FROM", "billing@tenantbill.local"),
		},
		BillingPolicyPath: strings.TrimSpace(getenv("BILLING_POLICY_PATH", "")),
	}

	return cfg
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBillingPolicyHolder),
)

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
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
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// otlpProtocol prefers the traces-specific override the OTLP exporters document.
func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	return strings.ToLower(strings.TrimSpace(protocol))
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
