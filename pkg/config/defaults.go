package config

import (
	"time"

	"mercator-hq/indexretain/pkg/index"
)

// Default values for configuration fields.
const (
	// Storage defaults
	DefaultStorageBackend     = "sqlite"
	DefaultStorageDriver      = "sqlite"
	DefaultStorageDataDir     = "data"
	DefaultStorageBusyTimeout = 5 * time.Second

	// Retention defaults
	DefaultRetentionType  = index.RuleCycles
	DefaultRetentionValue = 2

	// Checkpoint defaults
	DefaultCheckpointSchedule      = "0 */6 * * *"
	DefaultCheckpointSkewTolerance = 5 * time.Minute
	DefaultCheckpointRetryAttempts = 3
	DefaultCheckpointRetryBackoff  = 10 * time.Second
	DefaultCheckpointTimeout       = 30 * time.Minute

	// Aging defaults
	DefaultAgingBuffer = 256

	// Archive defaults
	DefaultArchiveBackend = "file"
	DefaultArchivePath    = "data/archives/"

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultMetricsListenAddress = "127.0.0.1:9464"
	DefaultPrometheusPath       = "/metrics"
	DefaultMetricsNamespace     = "indexretain"
	DefaultMetricsSubsystem     = "engine"
	DefaultTracingSampler       = "ratio"
	DefaultTracingSampleRatio   = 0.1
	DefaultTracingServiceName   = "indexretain"
	DefaultOTLPTimeout          = 10 * time.Second
	DefaultLivenessPath         = "/healthz"
	DefaultReadinessPath        = "/readyz"
	DefaultHealthCheckTimeout   = 5 * time.Second
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultStorageDataDir
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}

	// Retention defaults
	if cfg.Retention.Default.Type == "" && cfg.Retention.Default.Value == 0 {
		cfg.Retention.Default = index.RetentionRule{
			Type:  DefaultRetentionType,
			Value: DefaultRetentionValue,
		}
	}

	// Checkpoint defaults
	// Lock files sit next to durable index files unless set.
	if cfg.Checkpoint.LockDir == "" && cfg.Storage.Backend != "memory" {
		cfg.Checkpoint.LockDir = cfg.Storage.DataDir
	}
	if cfg.Checkpoint.Schedule == "" {
		cfg.Checkpoint.Schedule = DefaultCheckpointSchedule
	}
	if cfg.Checkpoint.SkewTolerance == 0 {
		cfg.Checkpoint.SkewTolerance = DefaultCheckpointSkewTolerance
	}
	if cfg.Checkpoint.RetryAttempts == 0 {
		cfg.Checkpoint.RetryAttempts = DefaultCheckpointRetryAttempts
	}
	if cfg.Checkpoint.RetryBackoff == 0 {
		cfg.Checkpoint.RetryBackoff = DefaultCheckpointRetryBackoff
	}
	if cfg.Checkpoint.Timeout == 0 {
		cfg.Checkpoint.Timeout = DefaultCheckpointTimeout
	}

	// Aging defaults
	if cfg.Aging.Buffer == 0 {
		cfg.Aging.Buffer = DefaultAgingBuffer
	}

	// Archive defaults
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = DefaultArchiveBackend
	}
	if cfg.Archive.Path == "" {
		cfg.Archive.Path = DefaultArchivePath
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.Sampler == DefaultTracingSampler && cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.OTLP.Timeout == 0 {
		cfg.Telemetry.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// Default returns a configuration with every default applied and no indexes.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
