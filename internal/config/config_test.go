package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "HTTP_PORT", "DATABASE_URL", "SESSION_SECRET", "ADMIN_PASSWORD", "ADMIN_TOKEN_TTL", "RATE_LIMIT_PER_MIN", "COOKIE_SECURE", "TRUSTED_PROXIES"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, "sqlite://attendance.db", cfg.DatabaseURL)
	assert.Equal(t, 12*time.Hour, cfg.AdminTokenTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.False(t, cfg.CookieSecure)
	assert.Empty(t, cfg.TrustedProxies)
	assert.False(t, cfg.Production())
	assert.ElementsMatch(t, []string{"SESSION_SECRET", "ADMIN_PASSWORD"}, cfg.InsecureDefaults())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("ADMIN_PASSWORD", "hunter22")
	t.Setenv("ADMIN_TOKEN_TTL", "30m")
	t.Setenv("RATE_LIMIT_PER_MIN", "10")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 172.16.0.0/12,")

	cfg := Load()

	assert.True(t, cfg.Production())
	assert.Equal(t, 30*time.Minute, cfg.AdminTokenTTL)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.TrustedProxies)
	assert.Empty(t, cfg.InsecureDefaults())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ADMIN_TOKEN_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("COOKIE_SECURE", "maybe")

	cfg := Load()

	assert.Equal(t, 12*time.Hour, cfg.AdminTokenTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.False(t, cfg.CookieSecure)
}

func TestCloudinaryEnabled(t *testing.T) {
	cfg := App{CloudinaryCloudName: "demo", CloudinaryAPIKey: "key"}
	assert.False(t, cfg.CloudinaryEnabled())

	cfg.CloudinaryAPISecret = "secret"
	assert.True(t, cfg.CloudinaryEnabled())
}
