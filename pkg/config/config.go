package config

import (
	"time"

	"mercator-hq/indexretain/pkg/index"
)

// Config is the root configuration structure for indexretain.
type Config struct {
	// Storage selects where each index database lives.
	Storage StorageConfig `yaml:"storage"`

	// Retention holds the rule applied to subclients without one.
	Retention RetentionConfig `yaml:"retention"`

	// Indexes declares the logical indexes, their backupsets and subclients.
	Indexes []IndexConfig `yaml:"indexes"`

	// Checkpoint controls periodic evaluation and pruning.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Aging controls storage-aging notices and aged-data visibility.
	Aging AgingConfig `yaml:"aging"`

	// Archive controls the copy of job metadata taken before pruning.
	Archive ArchiveConfig `yaml:"archive"`

	// Telemetry contains logging, metrics and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig configures the index store backend.
type StorageConfig struct {
	// Backend is the store implementation.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Driver is the SQLite driver.
	// Options: "sqlite" (modernc.org/sqlite), "sqlite3" (mattn/go-sqlite3)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DataDir holds one database file per index, named <index id>.db.
	// Default: "data"
	DataDir string `yaml:"data_dir"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// DisableWAL turns off Write-Ahead Logging.
	// Default: false
	DisableWAL bool `yaml:"disable_wal"`
}

// RetentionConfig contains index-wide retention settings.
type RetentionConfig struct {
	// Default applies to any subclient without its own rule.
	// Default: {type: cycles, value: 2}
	Default index.RetentionRule `yaml:"default"`
}

// IndexConfig declares one logical index.
type IndexConfig struct {
	// ID names the index and its database file.
	ID string `yaml:"id"`

	// Backupsets lists the backupsets of the index.
	Backupsets []BackupsetConfig `yaml:"backupsets"`
}

// BackupsetConfig declares a backupset and its subclients.
type BackupsetConfig struct {
	ID string `yaml:"id"`

	// Retention, when set, also covers every subclient of the backupset.
	Retention *index.RetentionRule `yaml:"retention"`

	Subclients []SubclientConfig `yaml:"subclients"`
}

// SubclientConfig declares a subclient.
type SubclientConfig struct {
	ID string `yaml:"id"`

	// Retention overrides the index default.
	Retention *index.RetentionRule `yaml:"retention"`
}

// CheckpointConfig controls the checkpoint manager.
type CheckpointConfig struct {
	// Schedule is a cron expression for periodic checkpoints.
	// Default: "0 */6 * * *" (every six hours)
	Schedule string `yaml:"schedule"`

	// LockDir holds per-index lock files so that checkpoints from separate
	// processes exclude each other.
	// Default: storage.data_dir, or none for the memory backend
	LockDir string `yaml:"lock_dir"`

	// SkewTolerance is how far a job may start before the newest job of its
	// subclient and still be appended.
	// Default: 5m
	SkewTolerance time.Duration `yaml:"skew_tolerance"`

	// RetryAttempts is how many times a conflicting checkpoint is retried.
	// Default: 3
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBackoff is the wait between retries.
	// Default: 10s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Timeout bounds one checkpoint run.
	// Default: 30m
	Timeout time.Duration `yaml:"timeout"`
}

// AgingConfig controls the aging coordinator.
type AgingConfig struct {
	// ShowAgedData is the initial ShowAgedDataForBrowseAndRecovery value,
	// used only when the index has no persisted setting.
	// Default: false
	ShowAgedData bool `yaml:"show_aged_data"`

	// SpoolDir is a directory watched for storage-aging notices.
	// Empty disables the spool watcher.
	SpoolDir string `yaml:"spool_dir"`

	// Buffer is the size of the aging event channel.
	// Default: 256
	Buffer int `yaml:"buffer"`
}

// ArchiveConfig controls archiving of job metadata before pruning.
type ArchiveConfig struct {
	// Enabled turns on archive-before-prune.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend is where archives go.
	// Options: "file", "s3"
	// Default: "file"
	Backend string `yaml:"backend"`

	// Path is the archive directory for the file backend.
	// Default: "data/archives/"
	Path string `yaml:"path"`

	// S3 contains S3-specific configuration.
	S3 S3Config `yaml:"s3"`
}

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	// Endpoint is the S3 endpoint host[:port].
	Endpoint string `yaml:"endpoint"`

	// Bucket is the destination bucket.
	Bucket string `yaml:"bucket"`

	// Region is the bucket region.
	Region string `yaml:"region"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	// AccessKeyID and SecretAccessKey are static credentials.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// UseSSL selects https.
	// Default: false
	UseSSL bool `yaml:"use_ssl"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded and served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the metrics and health endpoints are served.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "indexretain"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "engine"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "indexretain"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/healthz"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/readyz"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// Index returns the index with the given id, or nil.
func (c *Config) Index(id string) *IndexConfig {
	for i := range c.Indexes {
		if c.Indexes[i].ID == id {
			return &c.Indexes[i]
		}
	}
	return nil
}
