// Package config loads service configuration from defaults, an optional YAML
// file, and TIDEGATE_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tidegate/internal/models"
)

// Load loads configuration from file and environment variables.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overrides configuration from environment variables.
func loadFromEnvironment(config *models.Config) {
	// Server
	setInt("TIDEGATE_PORT", &config.Server.Port)
	setString("TIDEGATE_HOST", &config.Server.Host)
	setDuration("TIDEGATE_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("TIDEGATE_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration("TIDEGATE_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	setBool("TIDEGATE_TLS_ENABLED", &config.Server.TLSEnabled)
	setString("TIDEGATE_TLS_CERT_FILE", &config.Server.TLSCertFile)
	setString("TIDEGATE_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Quota
	setInt("TIDEGATE_QUOTA_BASE_CITIES", &config.Quota.BaseCities)
	setInt("TIDEGATE_QUOTA_PREMIUM_CITIES", &config.Quota.PremiumCities)

	// Bonus lifecycle
	setDuration("TIDEGATE_BONUS_COOLDOWN", &config.Bonus.Cooldown)
	setDuration("TIDEGATE_BONUS_TTL", &config.Bonus.TTL)

	// Entitlement verifier and cache
	setString("TIDEGATE_REVENUECAT_BASE_URL", &config.Entitlement.BaseURL)
	setString("TIDEGATE_REVENUECAT_API_KEY", &config.Entitlement.APIKey)
	setString("TIDEGATE_REVENUECAT_PROJECT_ID", &config.Entitlement.ProjectID)
	setString("TIDEGATE_REVENUECAT_ENTITLEMENT_ID", &config.Entitlement.EntitlementID)
	setString("TIDEGATE_ENTITLEMENT_CACHE_TYPE", &config.Entitlement.CacheType)
	setDuration("TIDEGATE_ENTITLEMENT_CACHE_TTL", &config.Entitlement.CacheTTL)
	setDuration("TIDEGATE_ENTITLEMENT_VERIFY_TIMEOUT", &config.Entitlement.VerifyTimeout)

	// Quota ledger
	setString("TIDEGATE_LEDGER_TYPE", &config.Ledger.Type)
	setString("TIDEGATE_LEDGER_KEY_PREFIX", &config.Ledger.KeyPrefix)
	setString("TIDEGATE_REDIS_ADDR", &config.Ledger.Redis.Addr)
	setString("TIDEGATE_REDIS_PASSWORD", &config.Ledger.Redis.Password)
	setInt("TIDEGATE_REDIS_DB", &config.Ledger.Redis.DB)
	setInt("TIDEGATE_REDIS_POOL_SIZE", &config.Ledger.Redis.PoolSize)

	// Bonus store
	setString("TIDEGATE_BONUS_STORE_TYPE", &config.BonusStore.Type)
	setString("TIDEGATE_BONUS_STORE_DSN", &config.BonusStore.DSN)

	// Upstream tide provider
	setString("TIDEGATE_UPSTREAM_BASE_URL", &config.Upstream.BaseURL)
	setDuration("TIDEGATE_UPSTREAM_TIMEOUT", &config.Upstream.Timeout)

	// Request rate limiting
	setBool("TIDEGATE_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	setInt("TIDEGATE_RATE_LIMIT_RPM", &config.RateLimit.RequestsPerMinute)
	setInt("TIDEGATE_RATE_LIMIT_BURST", &config.RateLimit.BurstSize)

	// Logging
	setString("TIDEGATE_LOG_LEVEL", &config.Logging.Level)
	setString("TIDEGATE_LOG_FORMAT", &config.Logging.Format)
	setString("TIDEGATE_LOG_OUTPUT", &config.Logging.Output)
	setString("TIDEGATE_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics
	setBool("TIDEGATE_METRICS_ENABLED", &config.Metrics.Enabled)
	setString("TIDEGATE_METRICS_PATH", &config.Metrics.Path)
	setInt("TIDEGATE_METRICS_PORT", &config.Metrics.Port)

	// Observability
	setString("TIDEGATE_SERVICE_NAME", &config.Observability.ServiceName)
	setBool("TIDEGATE_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	setString("TIDEGATE_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	setString("TIDEGATE_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

func setString(env string, target *string) {
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func setInt(env string, target *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(env string, target *bool) {
	if v := os.Getenv(env); v != "" {
		*target = strings.ToLower(v) == "true"
	}
}

func setDuration(env string, target *time.Duration) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
