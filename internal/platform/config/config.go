package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Config struct {
	Addr string

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// DeviceTokenTTL bounds the lifetime of issued device access tokens.
	DeviceTokenTTL time.Duration

	// ConflictStrategy picks the default resolution for cross-device
	// conflicts: SERVER_WINS, CLIENT_WINS, or MERGE.
	ConflictStrategy string

	// ConflictWindow is the number of recent per-entity ledger records
	// consulted when detecting conflicts.
	ConflictWindow int

	DownloadLimitDefault int
	DownloadLimitMax     int

	// PostgresDSN selects the durable stores. Empty means in-memory.
	PostgresDSN string

	Redis RedisConfig
	Kafka KafkaConfig
}

// RedisConfig configures the optional device liveness cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the domain event bridge consumer.
type KafkaConfig struct {
	Brokers []string
	Group   string
	// Domains lists the business domains whose topics the bridge follows.
	Domains []string
	// Origin identifies events produced by this subsystem; the bridge
	// skips them to avoid feeding its own output back into the ledger.
	Origin     string
	BackoffCap time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Addr:                 envString("CLINICSYNC_ADDR", ":8080"),
		JWTSigningKey:        jwtSigningKey,
		JWTIssuer:            envString("JWT_ISSUER", "clinicsync"),
		JWTAudience:          envString("JWT_AUDIENCE", "clinicsync-device"),
		DeviceTokenTTL:       envDuration("DEVICE_TOKEN_TTL", 90*24*time.Hour),
		ConflictStrategy:     envString("SYNC_CONFLICT_STRATEGY", "SERVER_WINS"),
		ConflictWindow:       envInt("SYNC_CONFLICT_WINDOW", 5),
		DownloadLimitDefault: envInt("SYNC_DOWNLOAD_LIMIT_DEFAULT", 100),
		DownloadLimitMax:     envInt("SYNC_DOWNLOAD_LIMIT_MAX", 1000),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    envList("KAFKA_BROKERS", nil),
			Group:      envString("KAFKA_GROUP", "clinicsync-bridge"),
			Domains:    envList("BRIDGE_DOMAINS", []string{"patients", "scheduling", "clinical", "billing"}),
			Origin:     envString("BRIDGE_ORIGIN", "sync"),
			BackoffCap: envDuration("BRIDGE_BACKOFF_CAP", 2*time.Minute),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
