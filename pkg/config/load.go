package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/indexretain/pkg/index"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "INDEXRETAIN_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention INDEXRETAIN_SECTION_FIELD (e.g., INDEXRETAIN_STORAGE_DATA_DIR).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Storage overrides
	envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	if cfg.Storage.Backend == "memory" && cfg.Checkpoint.LockDir == cfg.Storage.DataDir {
		cfg.Checkpoint.LockDir = ""
	}
	envString("STORAGE_DRIVER", &cfg.Storage.Driver)
	dataDir := cfg.Storage.DataDir
	envString("STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	if cfg.Checkpoint.LockDir == dataDir {
		cfg.Checkpoint.LockDir = cfg.Storage.DataDir
	}
	envDuration("STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)
	envBool("STORAGE_DISABLE_WAL", &cfg.Storage.DisableWAL)

	// Retention overrides
	if val := os.Getenv(EnvPrefix + "RETENTION_DEFAULT_TYPE"); val != "" {
		cfg.Retention.Default.Type = indexRuleType(val)
	}
	envInt("RETENTION_DEFAULT_VALUE", &cfg.Retention.Default.Value)

	// Checkpoint overrides
	envString("CHECKPOINT_SCHEDULE", &cfg.Checkpoint.Schedule)
	envString("CHECKPOINT_LOCK_DIR", &cfg.Checkpoint.LockDir)
	envDuration("CHECKPOINT_SKEW_TOLERANCE", &cfg.Checkpoint.SkewTolerance)
	envInt("CHECKPOINT_RETRY_ATTEMPTS", &cfg.Checkpoint.RetryAttempts)
	envDuration("CHECKPOINT_RETRY_BACKOFF", &cfg.Checkpoint.RetryBackoff)
	envDuration("CHECKPOINT_TIMEOUT", &cfg.Checkpoint.Timeout)

	// Aging overrides
	envBool("AGING_SHOW_AGED_DATA", &cfg.Aging.ShowAgedData)
	envString("AGING_SPOOL_DIR", &cfg.Aging.SpoolDir)

	// Archive overrides
	envBool("ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	envString("ARCHIVE_BACKEND", &cfg.Archive.Backend)
	envString("ARCHIVE_PATH", &cfg.Archive.Path)
	envString("ARCHIVE_S3_ENDPOINT", &cfg.Archive.S3.Endpoint)
	envString("ARCHIVE_S3_BUCKET", &cfg.Archive.S3.Bucket)
	envString("ARCHIVE_S3_REGION", &cfg.Archive.S3.Region)
	envString("ARCHIVE_S3_PREFIX", &cfg.Archive.S3.Prefix)
	envString("ARCHIVE_S3_ACCESS_KEY_ID", &cfg.Archive.S3.AccessKeyID)
	envString("ARCHIVE_S3_SECRET_ACCESS_KEY", &cfg.Archive.S3.SecretAccessKey)
	envBool("ARCHIVE_S3_USE_SSL", &cfg.Archive.S3.UseSSL)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func indexRuleType(s string) index.RuleType {
	return index.RuleType(strings.ToLower(strings.TrimSpace(s)))
}
