package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/indexretain/pkg/index"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "checkpoint.schedule").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateRule("retention.default", &cfg.Retention.Default)...)
	errs = append(errs, validateIndexes(cfg.Indexes)...)
	errs = append(errs, validateCheckpoint(&cfg.Checkpoint)...)
	errs = append(errs, validateAging(&cfg.Aging)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "sqlite":
		if cfg.DataDir == "" {
			errs = append(errs, FieldError{
				Field:   "storage.data_dir",
				Message: "data directory is required for the sqlite backend",
			})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid storage backend %q: must be 'sqlite' or 'memory'", cfg.Backend),
		})
	}

	if cfg.Driver != "sqlite" && cfg.Driver != "sqlite3" {
		errs = append(errs, FieldError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid sqlite driver %q: must be 'sqlite' or 'sqlite3'", cfg.Driver),
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.busy_timeout",
			Message: "busy timeout must be positive",
		})
	}

	return errs
}

func validateRule(field string, rule *index.RetentionRule) []FieldError {
	if rule == nil {
		return nil
	}
	if err := rule.Validate(); err != nil {
		return []FieldError{{Field: field, Message: err.Error()}}
	}
	return nil
}

// validateIndexes checks ids are present and unique. Subclient ids must be
// unique within an index since a subclient belongs to exactly one backupset.
func validateIndexes(indexes []IndexConfig) []FieldError {
	var errs []FieldError

	seenIndex := make(map[string]bool)
	for i, idx := range indexes {
		prefix := fmt.Sprintf("indexes[%d]", i)

		if idx.ID == "" {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "index id is required"})
		} else if strings.ContainsAny(idx.ID, `/\`) {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "index id must not contain path separators"})
		} else if seenIndex[idx.ID] {
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate index id %q", idx.ID)})
		}
		seenIndex[idx.ID] = true

		seenBackupset := make(map[string]bool)
		seenSubclient := make(map[string]bool)
		for j, bs := range idx.Backupsets {
			bsPrefix := fmt.Sprintf("%s.backupsets[%d]", prefix, j)

			if bs.ID == "" {
				errs = append(errs, FieldError{Field: bsPrefix + ".id", Message: "backupset id is required"})
			} else if seenBackupset[bs.ID] {
				errs = append(errs, FieldError{Field: bsPrefix + ".id", Message: fmt.Sprintf("duplicate backupset id %q", bs.ID)})
			}
			seenBackupset[bs.ID] = true
			errs = append(errs, validateRule(bsPrefix+".retention", bs.Retention)...)

			for k, sc := range bs.Subclients {
				scPrefix := fmt.Sprintf("%s.subclients[%d]", bsPrefix, k)

				if sc.ID == "" {
					errs = append(errs, FieldError{Field: scPrefix + ".id", Message: "subclient id is required"})
				} else if seenSubclient[sc.ID] {
					errs = append(errs, FieldError{Field: scPrefix + ".id", Message: fmt.Sprintf("duplicate subclient id %q", sc.ID)})
				}
				seenSubclient[sc.ID] = true
				errs = append(errs, validateRule(scPrefix+".retention", sc.Retention)...)
			}
		}
	}

	return errs
}

func validateCheckpoint(cfg *CheckpointConfig) []FieldError {
	var errs []FieldError

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "checkpoint.schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
		})
	}
	if cfg.SkewTolerance < 0 {
		errs = append(errs, FieldError{Field: "checkpoint.skew_tolerance", Message: "skew tolerance must be positive"})
	}
	if cfg.RetryAttempts < 0 {
		errs = append(errs, FieldError{Field: "checkpoint.retry_attempts", Message: "retry attempts must be non-negative"})
	}
	if cfg.RetryBackoff < 0 {
		errs = append(errs, FieldError{Field: "checkpoint.retry_backoff", Message: "retry backoff must be positive"})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "checkpoint.timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateAging(cfg *AgingConfig) []FieldError {
	if cfg.Buffer < 0 {
		return []FieldError{{Field: "aging.buffer", Message: "buffer must be non-negative"}}
	}
	return nil
}

func validateArchive(cfg *ArchiveConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	switch cfg.Backend {
	case "file":
		if cfg.Path == "" {
			errs = append(errs, FieldError{Field: "archive.path", Message: "archive path is required for the file backend"})
		}
	case "s3":
		if cfg.S3.Endpoint == "" {
			errs = append(errs, FieldError{Field: "archive.s3.endpoint", Message: "endpoint is required for the s3 backend"})
		}
		if cfg.S3.Bucket == "" {
			errs = append(errs, FieldError{Field: "archive.s3.bucket", Message: "bucket is required for the s3 backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "archive.backend",
			Message: fmt.Sprintf("invalid archive backend %q: must be 'file' or 's3'", cfg.Backend),
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.ListenAddress == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: "listen address is required when metrics are enabled",
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{
					Field:   "telemetry.tracing.sample_ratio",
					Message: fmt.Sprintf("sample ratio must be between 0.0 and 1.0, got %g", cfg.Tracing.SampleRatio),
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
			})
		}
	}

	if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.liveness_path", Message: "liveness path must start with /"})
	}
	if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
		errs = append(errs, FieldError{Field: "telemetry.health.readiness_path", Message: "readiness path must start with /"})
	}

	return errs
}
