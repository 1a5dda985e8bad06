package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	LogLevel      string
	PolicyPath    string
	MetricsToken  string

	DB            DBConfig
	Redis         RedisConfig
	Notifications NotificationConfig
	PII           PIIConfig
	Compliance    ComplianceConfig
}

// DBConfig selects the persistent store. Driver is postgres, sqlite or memory.
type DBConfig struct {
	Driver    string
	DSN       string
	TxTimeout time.Duration
}

// RedisConfig is consumed by internal/platform/redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NotificationConfig picks the sink notify events are handed to.
// Sink is log, kafka or redis.
type NotificationConfig struct {
	Sink         string
	KafkaBrokers []string
	KafkaTopic   string
	RedisStream  string
	BufferSize   int
}

// PIIConfig keys the PII guard. Strict turns decrypt failures into errors.
type PIIConfig struct {
	Secret string
	Strict bool
}

// ComplianceConfig drives the compliance scheduler.
type ComplianceConfig struct {
	Interval        time.Duration
	Retention       time.Duration
	BatchSize       int
	ReminderHorizon time.Duration
}

// DefaultRetention is the audit anonymization window.
const DefaultRetention = 365 * 24 * time.Hour

// FromEnv builds a Server config from environment variables so main stays lean.
// cmd/server applies flag overrides on top.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("PASSGATE_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}
	piiSecret := os.Getenv("PASSGATE_PII_SECRET")
	if piiSecret == "" {
		piiSecret = "dev-pii-secret-change-in-production"
	}

	return Server{
		Addr:          envOr("PASSGATE_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     os.Getenv("PASSGATE_JWT_ISSUER"),
		LogLevel:      envOr("PASSGATE_LOG_LEVEL", "info"),
		PolicyPath:    os.Getenv("PASSGATE_POLICY_PATH"),
		MetricsToken:  os.Getenv("PASSGATE_METRICS_TOKEN"),
		DB: DBConfig{
			Driver:    envOr("PASSGATE_DB_DRIVER", "sqlite"),
			DSN:       envOr("PASSGATE_DB_DSN", "passgate.db"),
			TxTimeout: envDuration("PASSGATE_DB_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PASSGATE_REDIS_URL"),
			PoolSize:     envInt("PASSGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PASSGATE_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Notifications: NotificationConfig{
			Sink:         envOr("PASSGATE_NOTIFY_SINK", "log"),
			KafkaBrokers: envList("PASSGATE_KAFKA_BROKERS"),
			KafkaTopic:   envOr("PASSGATE_KAFKA_TOPIC", "passgate.notifications"),
			RedisStream:  envOr("PASSGATE_REDIS_STREAM", "passgate:notifications"),
			BufferSize:   envInt("PASSGATE_NOTIFY_BUFFER", 256),
		},
		PII: PIIConfig{
			Secret: piiSecret,
			Strict: os.Getenv("PASSGATE_PII_STRICT") == "true",
		},
		Compliance: ComplianceConfig{
			Interval:        envDuration("PASSGATE_COMPLIANCE_INTERVAL", time.Hour),
			Retention:       envDuration("PASSGATE_RETENTION", DefaultRetention),
			BatchSize:       envInt("PASSGATE_COMPLIANCE_BATCH", 500),
			ReminderHorizon: envDuration("PASSGATE_REMINDER_HORIZON", 24*time.Hour),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
