package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration for the HTTP server and the
// background worker. Values come from the environment so main stays lean.
type Server struct {
	Addr string

	// OpsJWTSigningKey guards the /ops/* surface. Empty disables auth,
	// which keeps local development and the documented ops contract intact.
	OpsJWTSigningKey string

	PostgresDSN string
	SQLitePath  string

	Redis RedisConfig
	Kafka KafkaConfig

	// TokenTTL is the default lifetime of approval tokens.
	TokenTTL time.Duration

	// TickInterval is how often the scheduler worker plans and executes.
	TickInterval time.Duration

	// RerunRecipients receive the best-effort notification when a rerun is
	// requested through an approval token.
	RerunRecipients []string

	// PolicyFile points at the JSON policy-snapshot export consumed by the
	// planner when no remote policy source is wired.
	PolicyFile string
}

// RedisConfig configures the optional Redis backing for the idempotency
// ledger and token store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional run-event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:             envOr("PAYRUN_ADDR", ":8080"),
		OpsJWTSigningKey: os.Getenv("OPS_JWT_SIGNING_KEY"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		SQLitePath:       os.Getenv("LEDGER_SQLITE_PATH"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envOr("KAFKA_RUN_EVENTS_TOPIC", "payrun.run-events"),
		},
		TokenTTL:        envDuration("APPROVAL_TOKEN_TTL", 60*time.Minute),
		TickInterval:    envDuration("SCHEDULER_TICK_INTERVAL", 5*time.Minute),
		RerunRecipients: envList("RERUN_NOTIFY_RECIPIENTS"),
		PolicyFile:      os.Getenv("POLICY_SNAPSHOT_FILE"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
