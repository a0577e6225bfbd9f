// Package config provides configuration management for the substrate.
// It supports loading configuration from environment variables, files (YAML/JSON),
// and defaults, with a clear precedence order: env > file > defaults.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/collabmesh/substrate/internal/validation"
	"gopkg.in/yaml.v3"
)

// Config represents the complete substrate configuration.
type Config struct {
	Roles         RolesConfig         `json:"roles" yaml:"roles"`
	Memory        MemoryConfig        `json:"memory" yaml:"memory"`
	Dispatch      DispatchConfig      `json:"dispatch" yaml:"dispatch"`
	Arbitration   ArbitrationConfig   `json:"arbitration" yaml:"arbitration"`
	Plugins       PluginsConfig       `json:"plugins" yaml:"plugins"`
	Audit         AuditConfig         `json:"audit" yaml:"audit"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// RolesConfig points at the agent descriptor document consumed by the
// roles registry (C2), and controls whether it is hot-reloaded.
type RolesConfig struct {
	ConfigPath   string `json:"config_path" yaml:"config_path"`
	WatchEnabled bool   `json:"watch_enabled" yaml:"watch_enabled"`
}

// MemoryConfig configures the shared memory graph's (C1) sqlite-backed
// store and its in-memory LRU cache tier.
type MemoryConfig struct {
	DBPath        string        `json:"db_path" yaml:"db_path"`
	CacheSize     int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL      time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days"`
}

// DispatchConfig configures the subtask dispatcher's (C5) worker pool and
// retry policy.
type DispatchConfig struct {
	MaxConcurrency   int           `json:"max_concurrency" yaml:"max_concurrency"`
	SubtaskTimeout   time.Duration `json:"subtask_timeout" yaml:"subtask_timeout"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries"`
	RetryBaseDelay   time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMultiplier  float64       `json:"retry_multiplier" yaml:"retry_multiplier"`
}

// ArbitrationConfig configures the arbitration engine (C6): the default
// and fallback strategies, timeout, retries, and per-task-type overrides.
type ArbitrationConfig struct {
	DefaultStrategy     string                        `json:"default_strategy" yaml:"default_strategy"`
	FallbackStrategy    string                        `json:"fallback_strategy" yaml:"fallback_strategy"`
	FallbackConfidence  float64                       `json:"fallback_confidence" yaml:"fallback_confidence"`
	Timeout             time.Duration                 `json:"timeout" yaml:"timeout"`
	MaxRetries          int                           `json:"max_retries" yaml:"max_retries"`
	MinorDisputeDelta   float64                       `json:"minor_dispute_delta" yaml:"minor_dispute_delta"`
	TaskTypeStrategies  map[string]TaskTypeStrategy    `json:"task_type_strategies" yaml:"task_type_strategies"`
}

// TaskTypeStrategy names the strategy consulted before DefaultStrategy for
// a given task type.
type TaskTypeStrategy struct {
	Primary string `json:"primary" yaml:"primary"`
}

// PluginsConfig points at the arbitration strategy plugin directory (C7)
// and controls hot-reload.
type PluginsConfig struct {
	Directory    string `json:"directory" yaml:"directory"`
	FileGlob     string `json:"file_glob" yaml:"file_glob"`
	WatchEnabled bool   `json:"watch_enabled" yaml:"watch_enabled"`
}

// AuditConfig configures the Redis pub/sub sink the pipeline orchestrator
// (C9) publishes audit events to. Publishing is always best-effort.
type AuditConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	RedisAddr      string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string `json:"redis_password" yaml:"redis_password"`
	RedisDB        int    `json:"redis_db" yaml:"redis_db"`
	ChannelPrefix  string `json:"channel_prefix" yaml:"channel_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Sentry  SentryConfig  `json:"sentry" yaml:"sentry"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Endpoint   string  `json:"endpoint" yaml:"endpoint"`
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// SentryConfig holds Sentry error monitoring configuration.
type SentryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	DSN         string  `json:"dsn" yaml:"dsn"`
	Environment string  `json:"environment" yaml:"environment"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Release     string  `json:"release" yaml:"release"`
}

// Default values
const (
	DefaultRolesConfigPath      = "./config/roles.yaml"
	DefaultMemoryDBPath         = "./data/substrate.db"
	DefaultMemoryCacheSize      = 512
	DefaultMemoryCacheTTL       = 10 * time.Minute
	DefaultMemoryRetentionDays  = 90
	DefaultMaxConcurrency       = 8
	DefaultSubtaskTimeout       = 2 * time.Minute
	DefaultMaxRetries           = 2
	DefaultRetryBaseDelay       = 1 * time.Second
	DefaultRetryMultiplier      = 2.0
	DefaultArbitrationStrategy  = "majority_vote"
	DefaultFallbackStrategy     = "confidence_weight"
	DefaultFallbackConfidence   = 0.3
	DefaultMinorDisputeDelta    = 0.3
	DefaultArbitrationTimeout   = 30 * time.Second
	DefaultPluginsDirectory     = "./plugins/arbitration"
	DefaultPluginsFileGlob      = "strategy_*.yaml"
	DefaultAuditChannelPrefix   = "substrate.audit"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultMetricsEnabled       = false
	DefaultMetricsPort          = 9091
	DefaultMetricsPath          = "/metrics"
	DefaultTracingEnabled       = false
	DefaultTracingEndpoint      = "localhost:4317"
	DefaultSampleRate           = 0.1
	DefaultSentryEnabled        = false
	DefaultSentryEnv            = "development"
	DefaultSentrySampleRate     = 1.0
	DefaultSentryRelease        = "0.1.0"
)

// Valid values for validation
var (
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"json", "text"}
)

// Load loads configuration from environment variables and optional config file.
// Precedence: env vars > config file > defaults.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	if configFile := os.Getenv("SUBSTRATE_CONFIG_FILE"); configFile != "" {
		validatedPath, err := validation.ValidateConfigPath(configFile)
		if err != nil {
			return nil, fmt.Errorf("config file path validation failed: %w", err)
		}

		fileCfg, err := loadFile(validatedPath)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with all default values.
func defaults() *Config {
	return &Config{
		Roles: RolesConfig{
			ConfigPath:   DefaultRolesConfigPath,
			WatchEnabled: false,
		},
		Memory: MemoryConfig{
			DBPath:        DefaultMemoryDBPath,
			CacheSize:     DefaultMemoryCacheSize,
			CacheTTL:      DefaultMemoryCacheTTL,
			RetentionDays: DefaultMemoryRetentionDays,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency:  DefaultMaxConcurrency,
			SubtaskTimeout:  DefaultSubtaskTimeout,
			MaxRetries:      DefaultMaxRetries,
			RetryBaseDelay:  DefaultRetryBaseDelay,
			RetryMultiplier: DefaultRetryMultiplier,
		},
		Arbitration: ArbitrationConfig{
			DefaultStrategy:    DefaultArbitrationStrategy,
			FallbackStrategy:   DefaultFallbackStrategy,
			FallbackConfidence: DefaultFallbackConfidence,
			Timeout:            DefaultArbitrationTimeout,
			MaxRetries:         1,
			MinorDisputeDelta:  DefaultMinorDisputeDelta,
			TaskTypeStrategies: make(map[string]TaskTypeStrategy),
		},
		Plugins: PluginsConfig{
			Directory:    DefaultPluginsDirectory,
			FileGlob:     DefaultPluginsFileGlob,
			WatchEnabled: false,
		},
		Audit: AuditConfig{
			Enabled:       false,
			RedisAddr:     "localhost:6379",
			ChannelPrefix: DefaultAuditChannelPrefix,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
				Port:    DefaultMetricsPort,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				Enabled:    DefaultTracingEnabled,
				Endpoint:   DefaultTracingEndpoint,
				SampleRate: DefaultSampleRate,
			},
			Sentry: SentryConfig{
				Enabled:     DefaultSentryEnabled,
				Environment: DefaultSentryEnv,
				SampleRate:  DefaultSentrySampleRate,
				Release:     DefaultSentryRelease,
			},
		},
	}
}

// loadFile loads configuration from a YAML or JSON file.
func loadFile(path string) (*Config, error) {
	safePath := filepath.Clean(path)

	data, err := os.ReadFile(safePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := &Config{}
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}

	return cfg, nil
}

// loadEnv loads configuration from environment variables.
// Only overrides non-zero values from the provided config.
func loadEnv(cfg *Config) *Config {
	if p := os.Getenv("SUBSTRATE_ROLES_CONFIG"); p != "" {
		cfg.Roles.ConfigPath = p
	}
	if v := os.Getenv("SUBSTRATE_ROLES_WATCH"); v != "" {
		cfg.Roles.WatchEnabled = v == "true" || v == "1"
	}

	if p := os.Getenv("SUBSTRATE_MEMORY_DB_PATH"); p != "" {
		cfg.Memory.DBPath = p
	}
	if v := os.Getenv("SUBSTRATE_MEMORY_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Memory.CacheSize = n
		}
	}

	if v := os.Getenv("SUBSTRATE_DISPATCH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxConcurrency = n
		}
	}
	if v := os.Getenv("SUBSTRATE_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.SubtaskTimeout = d
		}
	}

	if v := os.Getenv("SUBSTRATE_ARBITRATION_DEFAULT_STRATEGY"); v != "" {
		cfg.Arbitration.DefaultStrategy = v
	}
	if v := os.Getenv("SUBSTRATE_ARBITRATION_FALLBACK_STRATEGY"); v != "" {
		cfg.Arbitration.FallbackStrategy = v
	}

	if p := os.Getenv("SUBSTRATE_PLUGINS_DIR"); p != "" {
		cfg.Plugins.Directory = p
	}

	if v := os.Getenv("SUBSTRATE_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SUBSTRATE_AUDIT_REDIS_ADDR"); v != "" {
		cfg.Audit.RedisAddr = v
	}

	if v := os.Getenv("SUBSTRATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SUBSTRATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SUBSTRATE_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SUBSTRATE_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SUBSTRATE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("SUBSTRATE_SENTRY_DSN"); v != "" {
		cfg.Observability.Sentry.Enabled = true
		cfg.Observability.Sentry.DSN = v
	}

	return cfg
}

// merge overlays non-zero fields of override onto base, returning base.
func merge(base, override *Config) *Config {
	if override.Roles.ConfigPath != "" {
		base.Roles.ConfigPath = override.Roles.ConfigPath
	}
	if override.Roles.WatchEnabled {
		base.Roles.WatchEnabled = true
	}

	if override.Memory.DBPath != "" {
		base.Memory.DBPath = override.Memory.DBPath
	}
	if override.Memory.CacheSize != 0 {
		base.Memory.CacheSize = override.Memory.CacheSize
	}
	if override.Memory.CacheTTL != 0 {
		base.Memory.CacheTTL = override.Memory.CacheTTL
	}
	if override.Memory.RetentionDays != 0 {
		base.Memory.RetentionDays = override.Memory.RetentionDays
	}

	if override.Dispatch.MaxConcurrency != 0 {
		base.Dispatch.MaxConcurrency = override.Dispatch.MaxConcurrency
	}
	if override.Dispatch.SubtaskTimeout != 0 {
		base.Dispatch.SubtaskTimeout = override.Dispatch.SubtaskTimeout
	}
	if override.Dispatch.MaxRetries != 0 {
		base.Dispatch.MaxRetries = override.Dispatch.MaxRetries
	}
	if override.Dispatch.RetryBaseDelay != 0 {
		base.Dispatch.RetryBaseDelay = override.Dispatch.RetryBaseDelay
	}
	if override.Dispatch.RetryMultiplier != 0 {
		base.Dispatch.RetryMultiplier = override.Dispatch.RetryMultiplier
	}

	if override.Arbitration.DefaultStrategy != "" {
		base.Arbitration.DefaultStrategy = override.Arbitration.DefaultStrategy
	}
	if override.Arbitration.FallbackStrategy != "" {
		base.Arbitration.FallbackStrategy = override.Arbitration.FallbackStrategy
	}
	if override.Arbitration.FallbackConfidence != 0 {
		base.Arbitration.FallbackConfidence = override.Arbitration.FallbackConfidence
	}
	if override.Arbitration.Timeout != 0 {
		base.Arbitration.Timeout = override.Arbitration.Timeout
	}
	if override.Arbitration.MinorDisputeDelta != 0 {
		base.Arbitration.MinorDisputeDelta = override.Arbitration.MinorDisputeDelta
	}
	if len(override.Arbitration.TaskTypeStrategies) > 0 {
		if base.Arbitration.TaskTypeStrategies == nil {
			base.Arbitration.TaskTypeStrategies = make(map[string]TaskTypeStrategy)
		}
		for k, v := range override.Arbitration.TaskTypeStrategies {
			base.Arbitration.TaskTypeStrategies[k] = v
		}
	}

	if override.Plugins.Directory != "" {
		base.Plugins.Directory = override.Plugins.Directory
	}
	if override.Plugins.FileGlob != "" {
		base.Plugins.FileGlob = override.Plugins.FileGlob
	}
	if override.Plugins.WatchEnabled {
		base.Plugins.WatchEnabled = true
	}

	if override.Audit.Enabled {
		base.Audit.Enabled = true
	}
	if override.Audit.RedisAddr != "" {
		base.Audit.RedisAddr = override.Audit.RedisAddr
	}
	if override.Audit.ChannelPrefix != "" {
		base.Audit.ChannelPrefix = override.Audit.ChannelPrefix
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Observability.Metrics.Enabled {
		base.Observability.Metrics.Enabled = true
	}
	if override.Observability.Metrics.Port != 0 {
		base.Observability.Metrics.Port = override.Observability.Metrics.Port
	}
	if override.Observability.Tracing.Enabled {
		base.Observability.Tracing.Enabled = true
	}
	if override.Observability.Tracing.Endpoint != "" {
		base.Observability.Tracing.Endpoint = override.Observability.Tracing.Endpoint
	}
	if override.Observability.Sentry.Enabled {
		base.Observability.Sentry.Enabled = true
	}
	if override.Observability.Sentry.DSN != "" {
		base.Observability.Sentry.DSN = override.Observability.Sentry.DSN
	}

	return base
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Memory.DBPath == "" {
		return fmt.Errorf("memory db path cannot be empty")
	}
	if c.Memory.CacheSize < 0 {
		return fmt.Errorf("memory cache size cannot be negative: %d", c.Memory.CacheSize)
	}

	if c.Dispatch.MaxConcurrency < 1 {
		return fmt.Errorf("dispatch max concurrency must be positive: %d", c.Dispatch.MaxConcurrency)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch max retries cannot be negative: %d", c.Dispatch.MaxRetries)
	}

	if c.Arbitration.DefaultStrategy == "" {
		return fmt.Errorf("arbitration default strategy cannot be empty")
	}
	if c.Arbitration.FallbackConfidence < 0 || c.Arbitration.FallbackConfidence > 1 {
		return fmt.Errorf("arbitration fallback confidence must be between 0 and 1: %f", c.Arbitration.FallbackConfidence)
	}

	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}

	if c.Observability.Metrics.Enabled {
		if c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Observability.Metrics.Port)
		}
	}

	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint cannot be empty when tracing enabled")
		}
		if c.Observability.Tracing.SampleRate < 0 || c.Observability.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1: %f", c.Observability.Tracing.SampleRate)
		}
	}

	if c.Observability.Sentry.Enabled && c.Observability.Sentry.DSN == "" {
		return fmt.Errorf("sentry DSN cannot be empty when sentry enabled")
	}

	return nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a default configuration for testing and documentation.
func Default() *Config {
	return defaults()
}
