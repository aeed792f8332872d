package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CRM_PG_DSN":         "postgres://crm@localhost/crm",
		"CRM_JWT_SECRET":     "0123456789abcdef0123456789abcdef",
		"CRM_SMTP_HOST":      "smtp.example.com",
		"CRM_SMTP_USERNAME":  "mailer",
		"CRM_SMTP_PASSWORD":  "secret",
		"CRM_MAIL_FROM":      "crm@example.com",
		"CRM_APP_URL":        "https://crm.example.com",
		"CRM_OPERATOR_EMAIL": "ops@example.com",
	}
}

func getenv(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(getenv(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.HTTPAddr)
	assert.Empty(t, cfg.GRPCAddr)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Hour, cfg.ResetTTL)
	assert.Equal(t, 24*time.Hour, cfg.SetupTTL)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.Equal(t, 5.0, cfg.RatePerSec)
	assert.Nil(t, cfg.CORSOrigins)
	assert.Nil(t, cfg.TrustedProxies)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["CRM_HTTP_ADDR"] = ":8080"
	env["CRM_GRPC_ADDR"] = ":9090"
	env["CRM_AUTO_MIGRATE"] = "false"
	env["CRM_LOCKOUT_THRESHOLD"] = "0"
	env["CRM_SESSION_TTL"] = "2h"
	env["CRM_CORS_ORIGINS"] = "https://a.example.com, https://b.example.com,"
	env["CRM_TRUSTED_PROXIES"] = "10.0.0.0/8, 192.168.1.5"

	cfg, err := LoadFrom(getenv(env))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 0, cfg.LockoutThreshold)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.TrustedProxies)
}

func TestLoadReportsAllMissing(t *testing.T) {
	_, err := LoadFrom(getenv(map[string]string{}))
	require.Error(t, err)
	for _, key := range []string{"CRM_PG_DSN", "CRM_JWT_SECRET", "CRM_SMTP_HOST", "CRM_SMTP_USERNAME",
		"CRM_SMTP_PASSWORD", "CRM_MAIL_FROM", "CRM_APP_URL", "CRM_OPERATOR_EMAIL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := baseEnv()
	env["CRM_JWT_SECRET"] = "too-short"
	env["CRM_SMTP_PORT"] = "99999"
	env["CRM_LOCKOUT_DURATION"] = "soon"
	env["CRM_AUTO_MIGRATE"] = "maybe"
	env["CRM_TRUSTED_PROXIES"] = "10.0.0.0/8,not-an-ip"

	_, err := LoadFrom(getenv(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM_JWT_SECRET must be at least 32 bytes")
	assert.Contains(t, err.Error(), "CRM_SMTP_PORT")
	assert.Contains(t, err.Error(), "CRM_LOCKOUT_DURATION")
	assert.Contains(t, err.Error(), "CRM_AUTO_MIGRATE")
	assert.Contains(t, err.Error(), `CRM_TRUSTED_PROXIES: invalid address or CIDR "not-an-ip"`)
}
