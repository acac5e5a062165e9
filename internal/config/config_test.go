package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagedata/datamarket/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("AUTH_ADMIN_EMAIL", "admin@example.com")
	t.Setenv("AUTH_ADMIN_PASSWORD", "adminpass123")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "datamarket.events", cfg.Kafka.Topic)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "admin@example.com", cfg.Auth.AdminEmail)
	assert.Equal(t, int64(256), cfg.Content.MaxUploadMiB)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

func TestLoadConfigValidatesAdminCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_ADMIN_EMAIL", "")
	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ADMIN_EMAIL")

	setRequiredEnv(t)
	t.Setenv("AUTH_ADMIN_EMAIL", "not-an-email")
	_, err = config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ADMIN_EMAIL")

	setRequiredEnv(t)
	t.Setenv("AUTH_ADMIN_PASSWORD", "short")
	_, err = config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ADMIN_PASSWORD")
}
