// Package config centralises configuration parsing for the activity sync services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration values shared by the service binaries.
type Config struct {
	HTTPAddress    string
	MetricsAddress string
	Environment    string
	LogLevel       string
	SentryDSN      string
	CORSOrigin     string

	// PostgresURL selects the Postgres stores; empty runs on the in-memory store.
	PostgresURL string
	RedisURL    string

	KafkaBrokers       []string
	WebhookTopic       string
	ConsumerGroup      string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.

	JWTSecret string
	JWTIssuer string

	Provider ProviderConfig
	Webhook  WebhookConfig

	TokenRefreshMargin  time.Duration
	SyncPageSize        int
	EventMaxRetries     int
	EventRetryBaseDelay time.Duration
	InlineWorkers       int
	InlineQueueDepth    int

	ProviderRateCapacity int
	ProviderRateRefill   int
	ProviderRateInterval time.Duration
}

// ProviderConfig holds the OAuth application registration and provider endpoints.
type ProviderConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	DeauthorizeURL string
	APIBaseURL     string
	Timeout        time.Duration
}

// WebhookConfig holds the push subscription secrets.
type WebhookConfig struct {
	CallbackURL    string
	VerifyToken    string
	SubscriptionID int64
	SigningSecret  string
	MaxBodyBytes   int64
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
// A .env file in the working directory is read first; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ":9102"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		CORSOrigin:         getEnv("CORS_ORIGIN", ""),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		WebhookTopic:       getEnv("WEBHOOK_TOPIC", "provider_webhook_events"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "activity-sync-reconciler"),
		SchemaRegistryURL:  getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 25),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "activity-sync"),
		Provider: ProviderConfig{
			ClientID:       getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret:   getEnv("PROVIDER_CLIENT_SECRET", ""),
			RedirectURL:    getEnv("PROVIDER_REDIRECT_URL", "http://localhost:8080/oauth/callback"),
			AuthURL:        getEnv("PROVIDER_AUTH_URL", "https://www.strava.com/oauth/authorize"),
			TokenURL:       getEnv("PROVIDER_TOKEN_URL", "https://www.strava.com/oauth/token"),
			DeauthorizeURL: getEnv("PROVIDER_DEAUTHORIZE_URL", "https://www.strava.com/oauth/deauthorize"),
			APIBaseURL:     getEnv("PROVIDER_API_BASE_URL", "https://www.strava.com/api/v3"),
			Timeout:        getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			CallbackURL:    getEnv("WEBHOOK_CALLBACK_URL", ""),
			VerifyToken:    getEnv("WEBHOOK_VERIFY_TOKEN", ""),
			SubscriptionID: getInt64Env("WEBHOOK_SUBSCRIPTION_ID", 0),
			SigningSecret:  getEnv("WEBHOOK_SIGNING_SECRET", ""),
			MaxBodyBytes:   getInt64Env("WEBHOOK_MAX_BODY_BYTES", 64<<10),
		},
		TokenRefreshMargin:   getDurationEnv("TOKEN_REFRESH_MARGIN", 5*time.Minute),
		SyncPageSize:         getIntEnv("SYNC_PAGE_SIZE", 30),
		EventMaxRetries:      getIntEnv("EVENT_MAX_RETRIES", 5),
		EventRetryBaseDelay:  getDurationEnv("EVENT_RETRY_BASE_DELAY", time.Second),
		InlineWorkers:        getIntEnv("INLINE_WORKERS", 4),
		InlineQueueDepth:     getIntEnv("INLINE_QUEUE_DEPTH", 256),
		ProviderRateCapacity: getIntEnv("PROVIDER_RATE_CAPACITY", 100),
		ProviderRateRefill:   getIntEnv("PROVIDER_RATE_REFILL", 100),
		ProviderRateInterval: getDurationEnv("PROVIDER_RATE_INTERVAL", 15*time.Minute),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	return cfg
}

// UseKafka reports whether webhook events flow through a broker.
func (c Config) UseKafka() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64Env(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
