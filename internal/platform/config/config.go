package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr     string
	LogLevel string

	// DatabaseURL selects the Postgres backend. Empty means in-memory stores,
	// which is what local development and most tests use.
	DatabaseURL string

	Redis RedisConfig

	// JWTSigningKey signs invitation tokens.
	JWTSigningKey string

	// AdminToken guards the /admin endpoints. Empty disables them.
	AdminToken string

	// InvitationTTL bounds how long a pending invitation stays redeemable.
	InvitationTTL time.Duration

	// SweepInterval controls the background expiry sweep for invitations.
	SweepInterval time.Duration

	// CacheMaxEntries caps the permission cache before eviction kicks in.
	CacheMaxEntries int

	ShutdownTimeout time.Duration
}

// RedisConfig holds connection settings for the optional Redis client used to
// broadcast cache invalidations across instances.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("ORGDESK_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default, must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:        getEnv("ORGDESK_ADDR", ":8080"),
		LogLevel:    getEnv("ORGDESK_LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("ORGDESK_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("ORGDESK_REDIS_URL"),
			PoolSize:     getInt("ORGDESK_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("ORGDESK_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("ORGDESK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("ORGDESK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("ORGDESK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		JWTSigningKey:   jwtSigningKey,
		AdminToken:      os.Getenv("ORGDESK_ADMIN_TOKEN"),
		InvitationTTL:   getDuration("ORGDESK_INVITATION_TTL", 72*time.Hour),
		SweepInterval:   getDuration("ORGDESK_SWEEP_INTERVAL", 10*time.Minute),
		CacheMaxEntries: getInt("ORGDESK_CACHE_MAX_ENTRIES", 1000),
		ShutdownTimeout: getDuration("ORGDESK_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
