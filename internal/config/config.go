package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/CodingButter/braidarr/pkg/config"
)

// Argon2 cost floors. Parameters below these are rejected at start-up rather
// than silently weakening stored hashes.
const (
	minArgonMemoryKiB   = 8 * 1024
	minArgonIterations  = 1
	minArgonParallelism = 1
)

// Config holds all configuration for the braidarr server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8096"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"braidarr"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"braidarr_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"braidarr"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Connection pool
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`

	// Kafka security events
	KafkaBrokers          []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	SecurityEventsEnabled bool     `env:"SECURITY_EVENTS_ENABLED" envDefault:"false"`

	// JWT
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"dev-access-secret-do-not-use-in-prod"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"dev-refresh-secret-do-not-use-in-prod"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Password hashing
	ArgonMemoryKiB     uint32 `env:"ARGON_MEMORY_KIB" envDefault:"65536"`
	ArgonIterations    uint32 `env:"ARGON_ITERATIONS" envDefault:"3"`
	ArgonParallelism   uint8  `env:"ARGON_PARALLELISM" envDefault:"4"`
	HashMaxConcurrency int64  `env:"HASH_MAX_CONCURRENCY" envDefault:"8"`

	// Rate limiting
	GlobalRateLimit   int           `env:"GLOBAL_RATE_LIMIT" envDefault:"100"`
	GlobalRateWindow  time.Duration `env:"GLOBAL_RATE_WINDOW" envDefault:"1m"`
	AuthRateLimit     int           `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateWindow    time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"15m"`
	RefreshRateLimit  int           `env:"REFRESH_RATE_LIMIT" envDefault:"30"`
	RefreshRateWindow time.Duration `env:"REFRESH_RATE_WINDOW" envDefault:"1m"`

	// Redis-backed rate limit counters for multi-instance deployments.
	RateLimitRedisEnabled bool   `env:"RATE_LIMIT_REDIS_ENABLED" envDefault:"false"`
	RedisHost             string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort             int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword         string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`

	// CSRF
	CSRFCookieSecure   bool   `env:"CSRF_COOKIE_SECURE" envDefault:"false"`
	CSRFCookieSameSite string `env:"CSRF_COOKIE_SAMESITE" envDefault:"lax"`

	// Tracing
	OTelEnabled  bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampling float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1.0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}

	// Outside development, require explicitly set, strong, distinct secrets.
	if cfg.Environment != "development" {
		for name, secret := range map[string]string{
			"JWT_ACCESS_SECRET":  cfg.JWTAccessSecret,
			"JWT_REFRESH_SECRET": cfg.JWTRefreshSecret,
		} {
			if secret == "dev-access-secret-do-not-use-in-prod" || secret == "dev-refresh-secret-do-not-use-in-prod" {
				return nil, fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, cfg.Environment)
			}
			if len(secret) < 32 {
				return nil, fmt.Errorf("%s must be at least 32 characters long, got %d", name, len(secret))
			}
		}
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if cfg.JWTAccessExpiry <= 0 || cfg.JWTRefreshExpiry <= 0 {
		return nil, fmt.Errorf("token expiries must be positive")
	}

	if cfg.ArgonMemoryKiB < minArgonMemoryKiB {
		return nil, fmt.Errorf("ARGON_MEMORY_KIB must be at least %d, got %d", minArgonMemoryKiB, cfg.ArgonMemoryKiB)
	}
	if cfg.ArgonIterations < minArgonIterations {
		return nil, fmt.Errorf("ARGON_ITERATIONS must be at least %d, got %d", minArgonIterations, cfg.ArgonIterations)
	}
	if cfg.ArgonParallelism < minArgonParallelism {
		return nil, fmt.Errorf("ARGON_PARALLELISM must be at least %d, got %d", minArgonParallelism, cfg.ArgonParallelism)
	}

	for name, window := range map[string]time.Duration{
		"GLOBAL_RATE_WINDOW":  cfg.GlobalRateWindow,
		"AUTH_RATE_WINDOW":    cfg.AuthRateWindow,
		"REFRESH_RATE_WINDOW": cfg.RefreshRateWindow,
	} {
		if window <= 0 {
			return nil, fmt.Errorf("%s must be positive", name)
		}
	}

	switch cfg.CSRFCookieSameSite {
	case "lax", "strict", "none":
	default:
		return nil, fmt.Errorf("CSRF_COOKIE_SAMESITE must be lax, strict, or none, got %q", cfg.CSRFCookieSameSite)
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// RedisAddr returns the redis host:port address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
