package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "rbac:", cfg.CachePrefix)
	assert.False(t, cfg.HonorDenyGrants)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("HONOR_DENY_GRANTS", "true")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.AppPort)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.HonorDenyGrants)
	assert.Contains(t, cfg.PostgresDSN(), "host=db")
	assert.Contains(t, cfg.PostgresDSN(), "password=secret")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("CACHE_TTL", "0s")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("CACHE_TTL", "soon")
	_, err = LoadConfig()
	assert.Error(t, err)
}
