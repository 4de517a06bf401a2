package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Expired batch policies.
const (
	ExpiredPolicyDiscount = "discount"
	ExpiredPolicyExclude  = "exclude"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string `validate:"required"`
	Port               string `validate:"required"`
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	DiscountRunTimeout    time.Duration `validate:"gt=0"`
	DiscountWorkers       int           `validate:"min=1,max=256"`
	DiscountExpiredPolicy string        `validate:"oneof=discount exclude"`
	DiscountLockTTL       time.Duration `validate:"gt=0"`
	DiscountLockKey       string        `validate:"required"`
	DiscountScheduleCron  string
	DiscountLastRunTTL    time.Duration

	AnalyticsCacheTTL          time.Duration `validate:"gte=0"`
	AnalyticsSoonExpiringDays  int           `validate:"gte=0"`
	AnalyticsSoonExpiringLimit int           `validate:"gte=0"`

	RateLimitCalculatePerMin int `validate:"gte=0"`
	RateLimitAPI             string
	BodyLimitBytes           int64 `validate:"gt=0"`
	IdempotencyTTL           time.Duration

	AuditEnabled      bool
	AuditSamplingRate float64 `validate:"gte=0,lte=1"`

	CacheBreakerMinRequests int     `validate:"gte=0"`
	CacheBreakerFailureRate float64 `validate:"gte=0,lte=1"`
	CacheBreakerOpenFor     time.Duration

	WebhookURLs        []string
	WebhookSecret      string
	WebhookTopics      []string
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int `validate:"min=1"`
	WebhookReplayTTL   time.Duration

	WorkerConcurrency int `validate:"min=1"`
	ShutdownTimeout   time.Duration

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBucketsMS string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64 `validate:"gte=0,lte=1"`
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
	HealthTimeout    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		JWTSecret:   k.String("AUTH_JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(k.String("AUTH_JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(k.String("AUTH_JWT_AUDIENCE")),

		DiscountRunTimeout:    parseDuration(k.String("DISCOUNT_RUN_TIMEOUT"), "30s"),
		DiscountWorkers:       parseInt(k.String("DISCOUNT_WORKERS"), 4),
		DiscountExpiredPolicy: strings.ToLower(valueOrDefault(k.String("DISCOUNT_EXPIRED_POLICY"), ExpiredPolicyDiscount)),
		DiscountLockTTL:       parseDuration(k.String("DISCOUNT_LOCK_TTL"), "2m"),
		DiscountLockKey:       valueOrDefault(k.String("DISCOUNT_LOCK_KEY"), "discount:run:lock"),
		DiscountScheduleCron:  valueOrDefault(k.String("DISCOUNT_SCHEDULE_CRON"), "0 0,12 * * *"),
		DiscountLastRunTTL:    parseDuration(k.String("DISCOUNT_LAST_RUN_TTL"), "168h"),

		AnalyticsCacheTTL:          parseDuration(k.String("ANALYTICS_CACHE_TTL"), "60s"),
		AnalyticsSoonExpiringDays:  parseInt(k.String("ANALYTICS_SOON_EXPIRING_DAYS"), 7),
		AnalyticsSoonExpiringLimit: parseInt(k.String("ANALYTICS_SOON_EXPIRING_LIMIT"), 0),

		RateLimitCalculatePerMin: parseInt(k.String("RATE_LIMIT_CALCULATE_PER_MIN"), 6),
		RateLimitAPI:             valueOrDefault(k.String("RATE_LIMIT_API"), "300-M"),
		BodyLimitBytes:           int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		IdempotencyTTL:           parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),

		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1.0),

		CacheBreakerMinRequests: parseInt(k.String("CACHE_BREAKER_MIN_REQUESTS"), 5),
		CacheBreakerFailureRate: parseFloat(k.String("CACHE_BREAKER_FAILURE_RATE"), 0.5),
		CacheBreakerOpenFor:     parseDuration(k.String("CACHE_BREAKER_OPEN_FOR"), "30s"),

		WebhookURLs:        splitAndTrim(k.String("WEBHOOK_URLS")),
		WebhookSecret:      k.String("WEBHOOK_SECRET"),
		WebhookTopics:      splitAndTrim(k.String("WEBHOOK_TOPICS")),
		WebhookTimeout:     parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookMaxAttempts: parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 5),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 2),
		ShutdownTimeout:   parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "expiry_discount"),
		MetricsBucketsMS: k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
		HealthTimeout:    time.Duration(parseInt(k.String("HEALTH_READY_TIMEOUT_MS"), 500)) * time.Millisecond,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.DiscountLockTTL <= cfg.DiscountRunTimeout {
		return nil, fmt.Errorf("invalid configuration: DISCOUNT_LOCK_TTL (%s) must exceed DISCOUNT_RUN_TIMEOUT (%s)", cfg.DiscountLockTTL, cfg.DiscountRunTimeout)
	}
	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// UsesPostgres reports whether a database is configured; otherwise the in-memory store is used.
func (c *Config) UsesPostgres() bool { return c.DatabaseURL != "" }

// UsesRedis reports whether Redis-backed cache, lock and limiter are enabled.
func (c *Config) UsesRedis() bool { return c.RedisURL != "" }

// ExcludeExpired reports whether expired batches are left out of calculation runs.
func (c *Config) ExcludeExpired() bool { return c.DiscountExpiredPolicy == ExpiredPolicyExclude }

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
