// Package config loads and validates the API configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the TS_ prefix (e.g., TS_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment
// variables in containerized deployments.
//
// The concurrency-control thresholds (lockout, rate limits, idempotency TTL)
// are deliberately configuration, not constants: the numeric values are a
// representative contract, not load-bearing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimits  RateLimitsConfig  `mapstructure:"rate_limits"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Activity    ActivityConfig    `mapstructure:"activity"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port the HTTP server listens on.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used for pre-authentication
// IP throttling on the login and register endpoints. When Addr is empty the
// throttle is disabled and those endpoints rely on account lockout alone.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	APIKeys APIKeyConfig  `mapstructure:"api_keys"`
	Session SessionConfig `mapstructure:"session"`
	Lockout LockoutConfig `mapstructure:"lockout"`
}

// APIKeyConfig holds API key issuance and validation configuration
type APIKeyConfig struct {
	// Prefix is prepended to every issued key (e.g. "ts_live").
	Prefix string `mapstructure:"prefix"`
	// LastUsedInterval bounds write amplification of last-used tracking:
	// the timestamp is refreshed at most once per interval.
	LastUsedInterval time.Duration `mapstructure:"last_used_interval"`
}

// SessionConfig holds JWT session token configuration
type SessionConfig struct {
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// LockoutConfig holds account lockout thresholds
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that triggers a lock.
	Threshold int `mapstructure:"threshold"`
	// Duration is how long a triggered lock lasts.
	Duration time.Duration `mapstructure:"duration"`
}

// RateLimitsConfig holds the fixed-window rate limiter configuration
type RateLimitsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Window is the fixed accounting window; boundaries are clock-aligned.
	Window time.Duration `mapstructure:"window"`
	// DefaultReads / DefaultWrites are per-window limits assigned to newly
	// issued keys; each key row carries its own effective limits.
	DefaultReads  int `mapstructure:"default_reads"`
	DefaultWrites int `mapstructure:"default_writes"`
	// AuthPerMinute is the per-IP Redis throttle applied to the
	// unauthenticated login/register endpoints.
	AuthPerMinute int `mapstructure:"auth_per_minute"`
}

// IdempotencyConfig holds idempotency record lifecycle configuration
type IdempotencyConfig struct {
	// TTL is how long a record blocks token reuse; after the TTL an expired
	// record (including a stuck pending one) becomes reusable.
	TTL time.Duration `mapstructure:"ttl"`
}

// RetentionConfig holds background retention job configuration
type RetentionConfig struct {
	// Interval is how often the retention sweep runs.
	Interval time.Duration `mapstructure:"interval"`
	// RevokedKeyDigests is how long a revoked key keeps its digest before it
	// is irreversibly redacted. The row itself is never deleted.
	RevokedKeyDigests time.Duration `mapstructure:"revoked_key_digests"`
	// Activities is how long activity rows are kept.
	Activities time.Duration `mapstructure:"activities"`
}

// ActivityConfig holds activity-log recording configuration
type ActivityConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// RecordReads additionally records successful GET requests.
	RecordReads bool `mapstructure:"record_reads"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; every key here is a non-empty hardcoded string, so any error indicates
// a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		"redis.addr",
		"redis.password",
		"redis.db",

		"auth.api_keys.prefix",
		"auth.api_keys.last_used_interval",
		"auth.session.access_token_ttl",
		"auth.session.refresh_token_ttl",
		"auth.lockout.threshold",
		"auth.lockout.duration",

		"rate_limits.enabled",
		"rate_limits.window",
		"rate_limits.default_reads",
		"rate_limits.default_writes",
		"rate_limits.auth_per_minute",

		"idempotency.ttl",

		"retention.interval",
		"retention.revoked_key_digests",
		"retention.activities",

		"activity.enabled",
		"activity.record_reads",

		"logging.level",
		"logging.format",

		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/third-space")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables.
	}

	v.SetEnvPrefix("TS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be injected
	// indirectly by infrastructure tooling.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands ${VAR} or $VAR in a string; a plain value passes through.
func expandEnv(s string) string {
	if strings.Contains(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// Validate checks the configuration for values that would make the
// concurrency-control layer silently wrong rather than merely misconfigured.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Lockout.Threshold < 1 {
		return fmt.Errorf("auth.lockout.threshold must be at least 1, got %d", c.Auth.Lockout.Threshold)
	}
	if c.Auth.Lockout.Duration <= 0 {
		return fmt.Errorf("auth.lockout.duration must be positive, got %v", c.Auth.Lockout.Duration)
	}
	if c.RateLimits.Window <= 0 {
		return fmt.Errorf("rate_limits.window must be positive, got %v", c.RateLimits.Window)
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive, got %v", c.Idempotency.TTL)
	}
	if !strings.HasSuffix(c.Auth.APIKeys.Prefix, "_") && c.Auth.APIKeys.Prefix != "" {
		// The separator is part of the stored display prefix; require it so
		// issued keys always look like "ts_live_<random>".
		return fmt.Errorf("auth.api_keys.prefix %q must end with an underscore", c.Auth.APIKeys.Prefix)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "third_space")
	v.SetDefault("database.user", "third_space")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis is optional; empty addr disables the pre-auth IP throttle.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.api_keys.prefix", "ts_live_")
	v.SetDefault("auth.api_keys.last_used_interval", "5m")
	v.SetDefault("auth.session.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "168h")
	v.SetDefault("auth.lockout.threshold", 5)
	v.SetDefault("auth.lockout.duration", "15m")

	// Rate limit defaults: fixed 1h clock-aligned windows.
	v.SetDefault("rate_limits.enabled", true)
	v.SetDefault("rate_limits.window", "1h")
	v.SetDefault("rate_limits.default_reads", 1000)
	v.SetDefault("rate_limits.default_writes", 100)
	v.SetDefault("rate_limits.auth_per_minute", 10)

	// Idempotency defaults
	v.SetDefault("idempotency.ttl", "24h")

	// Retention defaults
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.revoked_key_digests", "2160h") // 90 days
	v.SetDefault("retention.activities", "2160h")

	// Activity log defaults
	v.SetDefault("activity.enabled", true)
	v.SetDefault("activity.record_reads", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}
