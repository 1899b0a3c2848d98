package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the engine reads at startup. All values
// come from the environment; a .env file is honored when present.
type Config struct {
	HTTPAddr    string
	CORSOrigins string

	PostgresDSN  string
	DBRequireTLS bool
	DBMaxConns   int

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisTLS           bool
	RedisTLSServerName string
	RedisTLSCAFile     string
	RedisRequireTLS    bool

	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	ReviewURL        string
	ReviewAuthHeader string
	ReviewAuthToken  string
	ReviewRetries    int
	ReviewRetryDelay time.Duration

	AdapterBudget     time.Duration
	StrictMode        bool
	DefaultMode       string
	SessionTTL        time.Duration
	EventDedupeTTL    time.Duration
	PleaseConversion  int
	PleaseCrisis      int
	CrisisQueueDepth  int
	MaxUtteranceBytes int

	RateLimitEnabled   bool
	RateLimitPerMinute int

	OTLPEndpoint string
	ServiceName  string
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		HTTPAddr:    env("CONSENT_HTTP_ADDR", ":8080"),
		CORSOrigins: env("CONSENT_CORS_ORIGINS", ""),

		PostgresDSN:  env("CONSENT_POSTGRES_DSN", ""),
		DBRequireTLS: envBool("CONSENT_DB_REQUIRE_TLS", false),
		DBMaxConns:   envInt("CONSENT_DB_MAX_CONNS", 10),

		RedisAddr:          env("CONSENT_REDIS_ADDR", ""),
		RedisPassword:      env("CONSENT_REDIS_PASSWORD", ""),
		RedisDB:            envInt("CONSENT_REDIS_DB", 0),
		RedisTLS:           envBool("CONSENT_REDIS_TLS", false),
		RedisTLSServerName: env("CONSENT_REDIS_TLS_SERVER_NAME", ""),
		RedisTLSCAFile:     env("CONSENT_REDIS_TLS_CA_FILE", ""),
		RedisRequireTLS:    envBool("CONSENT_REDIS_REQUIRE_TLS", false),

		KafkaBrokers: env("CONSENT_KAFKA_BROKERS", ""),
		KafkaTopic:   env("CONSENT_KAFKA_TOPIC", "consent.session.events"),
		KafkaGroupID: env("CONSENT_KAFKA_GROUP", "consentd"),

		ReviewURL:        env("CONSENT_REVIEW_URL", ""),
		ReviewAuthHeader: env("CONSENT_REVIEW_AUTH_HEADER", ""),
		ReviewAuthToken:  env("CONSENT_REVIEW_AUTH_TOKEN", ""),
		ReviewRetries:    envInt("CONSENT_REVIEW_RETRIES", 3),
		ReviewRetryDelay: envDurationMS("CONSENT_REVIEW_RETRY_DELAY_MS", 200),

		AdapterBudget:     envDurationMS("CONSENT_ADAPTER_BUDGET_MS", 5),
		StrictMode:        envBool("CONSENT_STRICT_MODE", true),
		DefaultMode:       env("CONSENT_DEFAULT_MODE", "dual"),
		SessionTTL:        envDurationSec("CONSENT_SESSION_TTL_SEC", 86400),
		EventDedupeTTL:    envDurationSec("CONSENT_EVENT_DEDUPE_TTL_SEC", 3600),
		PleaseConversion:  envInt("CONSENT_PLEASE_CONVERSION_THRESHOLD", 8),
		PleaseCrisis:      envInt("CONSENT_PLEASE_CRISIS_THRESHOLD", 15),
		CrisisQueueDepth:  envInt("CONSENT_CRISIS_QUEUE_DEPTH", 256),
		MaxUtteranceBytes: envInt("CONSENT_MAX_UTTERANCE_BYTES", 65536),

		RateLimitEnabled:   envBool("CONSENT_RATE_LIMIT_ENABLED", false),
		RateLimitPerMinute: envInt("CONSENT_RATE_LIMIT_PER_MINUTE", 600),

		OTLPEndpoint: env("CONSENT_OTLP_ENDPOINT", ""),
		ServiceName:  env("CONSENT_SERVICE_NAME", "consentd"),
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func envDurationMS(k string, def int) time.Duration {
	return time.Millisecond * time.Duration(envInt(k, def))
}
