package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setProdSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("r", 32))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8096, cfg.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessExpiry)
	assert.Equal(t, 168*time.Hour, cfg.JWTRefreshExpiry)
	assert.Equal(t, uint32(65536), cfg.ArgonMemoryKiB)
	assert.Equal(t, 5, cfg.AuthRateLimit)
	assert.Equal(t, 15*time.Minute, cfg.AuthRateWindow)
	assert.False(t, cfg.RateLimitRedisEnabled)
	assert.False(t, cfg.SecurityEventsEnabled)
}

func TestLoad_ProductionRequiresStrongSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be explicitly set")
}

func TestLoad_ProductionShortSecretRejected(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("r", 32))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_EqualSecretsRejected(t *testing.T) {
	secret := strings.Repeat("s", 32)
	t.Setenv("JWT_ACCESS_SECRET", secret)
	t.Setenv("JWT_REFRESH_SECRET", secret)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_ArgonFloors(t *testing.T) {
	setProdSecrets(t)
	t.Setenv("ARGON_MEMORY_KIB", "1024")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARGON_MEMORY_KIB")
}

func TestLoad_NonPositiveWindowRejected(t *testing.T) {
	setProdSecrets(t)
	t.Setenv("AUTH_RATE_WINDOW", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_RATE_WINDOW")
}

func TestLoad_InvalidSameSiteRejected(t *testing.T) {
	setProdSecrets(t)
	t.Setenv("CSRF_COOKIE_SAMESITE", "sideways")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSRF_COOKIE_SAMESITE")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost: "db", PostgresPort: 5432,
		PostgresUser: "braidarr", PostgresPass: "pw",
		PostgresDB: "braidarr", PostgresSSL: "disable",
	}
	assert.Equal(t, "postgres://braidarr:pw@db:5432/braidarr?sslmode=disable", cfg.PostgresDSN())
}
