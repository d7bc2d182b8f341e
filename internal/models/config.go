// Package models - Service configuration and operational settings.
// Hierarchical configuration with logical grouping (server, quota, bonus,
// entitlement, storage, logging, metrics), environment-friendly defaults,
// and validation to catch misconfigurations before the service starts.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Ledger backend type constants.
const (
	LedgerTypeMemory = "memory"
	LedgerTypeRedis  = "redis"
)

// Bonus store backend type constants.
const (
	BonusStoreTypeMemory   = "memory"
	BonusStoreTypeSQLite   = "sqlite"
	BonusStoreTypePostgres = "postgres"
)

// Entitlement cache backend type constants.
const (
	EntitlementCacheMemory = "memory"
	EntitlementCacheRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Quota         QuotaConfig         `yaml:"quota" json:"quota"`
	Bonus         BonusConfig         `yaml:"bonus" json:"bonus"`
	Entitlement   EntitlementConfig   `yaml:"entitlement" json:"entitlement"`
	Ledger        LedgerConfig        `yaml:"ledger" json:"ledger"`
	BonusStore    BonusStoreConfig    `yaml:"bonus_store" json:"bonus_store"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// QuotaConfig controls the daily distinct-city caps.
type QuotaConfig struct {
	// BaseCities is the number of distinct cities a non-premium identity may
	// look up per day.
	BaseCities int `yaml:"base_cities" json:"base_cities"`
	// PremiumCities is the cap applied once entitlement is verified.
	PremiumCities int `yaml:"premium_cities" json:"premium_cities"`
}

// BonusConfig controls the ad-view bonus token lifecycle.
type BonusConfig struct {
	// Cooldown is the rolling window during which only one token may be
	// issued per device.
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	// TTL is how long an issued token stays claimable and consumable.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// EntitlementConfig configures the external entitlement verifier and the
// cache fronting it.
type EntitlementConfig struct {
	BaseURL       string        `yaml:"base_url" json:"base_url"`
	APIKey        string        `yaml:"api_key" json:"api_key"`
	ProjectID     string        `yaml:"project_id" json:"project_id"`
	EntitlementID string        `yaml:"entitlement_id" json:"entitlement_id"`
	CacheType     string        `yaml:"cache_type" json:"cache_type"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	VerifyTimeout time.Duration `yaml:"verify_timeout" json:"verify_timeout"`
}

// LedgerConfig selects and configures the quota ledger backend.
type LedgerConfig struct {
	Type      string      `yaml:"type" json:"type"`
	KeyPrefix string      `yaml:"key_prefix" json:"key_prefix"`
	Redis     RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// BonusStoreConfig selects and configures the bonus token store backend.
type BonusStoreConfig struct {
	Type string `yaml:"type" json:"type"`
	// DSN is the connection string for the sqlite and postgres backends.
	DSN string `yaml:"dsn" json:"dsn"`
}

// UpstreamConfig points at the external tidal-data provider.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig configures the request-rate limiter guarding the bonus
// issuance and claim endpoints. This is independent of the city quota.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" json:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults:
// 2 free cities per day, 30 for premium, 30-minute bonus cooldown, 5-minute
// token TTL and a 1-hour entitlement cache.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Quota: QuotaConfig{
			BaseCities:    2,
			PremiumCities: 30,
		},
		Bonus: BonusConfig{
			Cooldown: 30 * time.Minute,
			TTL:      5 * time.Minute,
		},
		Entitlement: EntitlementConfig{
			BaseURL:       "https://api.revenuecat.com/v2",
			EntitlementID: "premium",
			CacheType:     EntitlementCacheMemory,
			CacheTTL:      time.Hour,
			VerifyTimeout: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			Type:      LedgerTypeMemory,
			KeyPrefix: "tidegate:cities:",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		BonusStore: BonusStoreConfig{
			Type: BonusStoreTypeSQLite,
			DSN:  "./data/tidegate.db",
		},
		Upstream: UpstreamConfig{
			Timeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
			CleanupInterval:   5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "tidegate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("invalid quota config: %w", err)
	}
	if err := c.Bonus.Validate(); err != nil {
		return fmt.Errorf("invalid bonus config: %w", err)
	}
	if err := c.Entitlement.Validate(); err != nil {
		return fmt.Errorf("invalid entitlement config: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("invalid ledger config: %w", err)
	}
	if err := c.BonusStore.Validate(); err != nil {
		return fmt.Errorf("invalid bonus store config: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}
	return nil
}

func (qc *QuotaConfig) Validate() error {
	if qc.BaseCities < 1 {
		return errors.New("base cities cap must be at least 1")
	}
	if qc.PremiumCities < qc.BaseCities {
		return errors.New("premium cities cap cannot be lower than the base cap")
	}
	return nil
}

func (bc *BonusConfig) Validate() error {
	if bc.Cooldown <= 0 {
		return errors.New("bonus cooldown must be positive")
	}
	if bc.TTL <= 0 {
		return errors.New("bonus TTL must be positive")
	}
	return nil
}

func (ec *EntitlementConfig) Validate() error {
	if ec.CacheType != EntitlementCacheMemory && ec.CacheType != EntitlementCacheRedis {
		return fmt.Errorf("invalid entitlement cache type: %s", ec.CacheType)
	}
	if ec.CacheTTL <= 0 {
		return errors.New("entitlement cache TTL must be positive")
	}
	if ec.VerifyTimeout <= 0 {
		return errors.New("entitlement verify timeout must be positive")
	}
	return nil
}

func (lc *LedgerConfig) Validate() error {
	switch lc.Type {
	case LedgerTypeMemory:
		return nil
	case LedgerTypeRedis:
		if lc.Redis.Addr == "" {
			return errors.New("redis address is required for the redis ledger")
		}
		return nil
	default:
		return fmt.Errorf("invalid ledger type: %s", lc.Type)
	}
}

func (bsc *BonusStoreConfig) Validate() error {
	switch bsc.Type {
	case BonusStoreTypeMemory:
		return nil
	case BonusStoreTypeSQLite, BonusStoreTypePostgres:
		if bsc.DSN == "" {
			return fmt.Errorf("DSN is required for %s bonus store", bsc.Type)
		}
		return nil
	default:
		return fmt.Errorf("invalid bonus store type: %s", bsc.Type)
	}
}

func (rlc *RateLimitConfig) Validate() error {
	if !rlc.Enabled {
		return nil
	}
	if rlc.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}
	if rlc.BurstSize <= 0 {
		return errors.New("burst size must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}
	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}
	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}
	return nil
}
