// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/usagemeter/domain/budget"
	"github.com/artpar/usagemeter/domain/cost"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Aggregates AggregatesConfig `yaml:"aggregates"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Pricing    cost.Pricing     `yaml:"pricing"`
	Budget     budget.Config    `yaml:"budget"`
	Settings   SettingsConfig   `yaml:"settings"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Timezone   string           `yaml:"timezone"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the event log, alert log and settings store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// AggregatesConfig selects where user summaries and system stats live.
type AggregatesConfig struct {
	Backend    string        `yaml:"backend"` // "memory", "sqlite" or "redis"
	MaxRetries int           `yaml:"max_retries"`
	Retention  time.Duration `yaml:"retention"` // system stats retention (memory, redis)
	Shards     int           `yaml:"shards"`    // memory backend
	Redis      RedisConfig   `yaml:"redis,omitempty"`
}

// RedisConfig configures the shared aggregate store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DispatchConfig configures background aggregate work.
type DispatchConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// SettingsConfig configures the externally managed settings.
type SettingsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AlertsConfig configures alert evaluation.
type AlertsConfig struct {
	// Cooldown suppresses repeats of one alert type per scope.
	// Unset means one hour; an explicit 0 raises on every crossing.
	Cooldown *time.Duration `yaml:"cooldown"`
}

// CooldownOrDefault returns the effective cooldown.
func (a AlertsConfig) CooldownOrDefault() time.Duration {
	if a.Cooldown == nil {
		return time.Hour
	}
	return *a.Cooldown
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// AdminConfig protects write endpoints.
// TokenHash is a bcrypt hash; empty disables the admin endpoints.
type AdminConfig struct {
	TokenHash string `yaml:"token_hash,omitempty"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	USAGEMETER_SERVER_HOST          - Server host (default: 0.0.0.0)
//	USAGEMETER_SERVER_PORT          - Server port (default: 8080)
//	USAGEMETER_DATABASE_DRIVER      - sqlite or memory (default: sqlite)
//	USAGEMETER_DATABASE_DSN         - Database path (default: usagemeter.db)
//	USAGEMETER_AGGREGATES_BACKEND   - memory, sqlite or redis (default: sqlite)
//	USAGEMETER_REDIS_ADDR           - Redis address for the redis backend
//	USAGEMETER_REDIS_PASSWORD       - Redis password
//	USAGEMETER_TIMEZONE             - IANA zone for period keys (default: UTC)
//	USAGEMETER_BUDGET_DAILY         - Configured daily budget in dollars
//	USAGEMETER_USER_DAILY_LIMIT     - Configured per-user daily request limit
//	USAGEMETER_ALERTS_COOLDOWN      - Alert cooldown, e.g. 30m (0 disables)
//	USAGEMETER_LOG_LEVEL            - debug, info, warn, error (default: info)
//	USAGEMETER_LOG_FORMAT           - json or console (default: json)
//	USAGEMETER_METRICS_ENABLED      - Enable /metrics endpoint (default: true)
//	USAGEMETER_ADMIN_TOKEN_HASH     - bcrypt hash of the admin token
func LoadFromEnv() (*Config, error) {
	cfg := Config{Metrics: MetricsConfig{Enabled: true}}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists, otherwise falls back to
// environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies USAGEMETER_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("USAGEMETER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("USAGEMETER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Storage configuration
	if v := os.Getenv("USAGEMETER_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("USAGEMETER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("USAGEMETER_AGGREGATES_BACKEND"); v != "" {
		cfg.Aggregates.Backend = v
	}
	if v := os.Getenv("USAGEMETER_REDIS_ADDR"); v != "" {
		cfg.Aggregates.Redis.Addr = v
	}
	if v := os.Getenv("USAGEMETER_REDIS_PASSWORD"); v != "" {
		cfg.Aggregates.Redis.Password = v
	}

	// Metering configuration
	if v := os.Getenv("USAGEMETER_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("USAGEMETER_BUDGET_DAILY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.DailyBudget = f
		}
	}
	if v := os.Getenv("USAGEMETER_USER_DAILY_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Budget.UserDailyLimit = n
		}
	}
	if v := os.Getenv("USAGEMETER_ALERTS_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.Cooldown = &d
		}
	}

	// Logging configuration
	if v := os.Getenv("USAGEMETER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGEMETER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("USAGEMETER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	if v := os.Getenv("USAGEMETER_ADMIN_TOKEN_HASH"); v != "" {
		cfg.Admin.TokenHash = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "usagemeter.db"
	}

	if cfg.Aggregates.Backend == "" {
		if cfg.Database.Driver == "memory" {
			cfg.Aggregates.Backend = "memory"
		} else {
			cfg.Aggregates.Backend = "sqlite"
		}
	}
	if cfg.Aggregates.MaxRetries == 0 {
		cfg.Aggregates.MaxRetries = 50
	}
	if cfg.Aggregates.Retention == 0 {
		cfg.Aggregates.Retention = 90 * 24 * time.Hour
	}
	if cfg.Aggregates.Redis.Prefix == "" {
		cfg.Aggregates.Redis.Prefix = "usagemeter"
	}

	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 1024
	}
	if cfg.Dispatch.JobTimeout == 0 {
		cfg.Dispatch.JobTimeout = 5 * time.Second
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.Dispatch.RetryBaseDelay == 0 {
		cfg.Dispatch.RetryBaseDelay = 50 * time.Millisecond
	}
	if cfg.Dispatch.RetryMaxDelay == 0 {
		cfg.Dispatch.RetryMaxDelay = time.Second
	}

	if cfg.Pricing == (cost.Pricing{}) {
		cfg.Pricing = cost.DefaultPricing()
	}
	cfg.Budget = cfg.Budget.WithDefaults(budget.Defaults())

	if cfg.Settings.CacheTTL == 0 {
		cfg.Settings.CacheTTL = 30 * time.Second
	}

	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	validBackends := map[string]bool{"memory": true, "sqlite": true, "redis": true}
	if !validBackends[cfg.Aggregates.Backend] {
		return fmt.Errorf("aggregates.backend must be one of: memory, sqlite, redis")
	}
	if cfg.Aggregates.Backend == "sqlite" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("aggregates.backend 'sqlite' requires database.driver 'sqlite'")
	}
	if cfg.Aggregates.Backend == "redis" && cfg.Aggregates.Redis.Addr == "" {
		return fmt.Errorf("aggregates.redis.addr is required when aggregates.backend is 'redis'")
	}

	if cfg.Dispatch.Workers < 0 || cfg.Dispatch.QueueSize < 0 || cfg.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch values must be >= 0")
	}

	if cfg.Pricing.InputPerMillion < 0 || cfg.Pricing.OutputPerMillion < 0 {
		return fmt.Errorf("pricing must be >= 0")
	}
	if err := cfg.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if cfg.Alerts.CooldownOrDefault() < 0 {
		return fmt.Errorf("alerts.cooldown must be >= 0")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}

// Location returns the configured calendar location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
