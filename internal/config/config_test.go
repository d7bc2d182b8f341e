package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidegate/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Quota.BaseCities)
	assert.Equal(t, 30, cfg.Quota.PremiumCities)
	assert.Equal(t, 30*time.Minute, cfg.Bonus.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.Bonus.TTL)
	assert.Equal(t, time.Hour, cfg.Entitlement.CacheTTL)
	assert.Equal(t, models.LedgerTypeMemory, cfg.Ledger.Type)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9999
quota:
  base_cities: 3
  premium_cities: 50
ledger:
  type: redis
  redis:
    addr: redis.internal:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Quota.BaseCities)
	assert.Equal(t, 50, cfg.Quota.PremiumCities)
	assert.Equal(t, models.LedgerTypeRedis, cfg.Ledger.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Ledger.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.Bonus.Cooldown)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0600))

	t.Setenv("TIDEGATE_PORT", "9001")
	t.Setenv("TIDEGATE_QUOTA_BASE_CITIES", "5")
	t.Setenv("TIDEGATE_BONUS_COOLDOWN", "45m")
	t.Setenv("TIDEGATE_RATE_LIMIT_ENABLED", "false")
	t.Setenv("TIDEGATE_REVENUECAT_API_KEY", "sk_test_123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Quota.BaseCities)
	assert.Equal(t, 45*time.Minute, cfg.Bonus.Cooldown)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "sk_test_123", cfg.Entitlement.APIKey)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TIDEGATE_PORT", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRejectsPremiumBelowBase(t *testing.T) {
	t.Setenv("TIDEGATE_QUOTA_BASE_CITIES", "10")
	t.Setenv("TIDEGATE_QUOTA_PREMIUM_CITIES", "5")
	_, err := Load("")
	assert.Error(t, err)
}
