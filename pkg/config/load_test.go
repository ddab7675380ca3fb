package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/indexretain/pkg/index"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indexretain.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: "sqlite"
  driver: "sqlite3"
  data_dir: "/tmp/idx"
  busy_timeout: "2s"

retention:
  default: {type: days, value: 14}

indexes:
  - id: "client-01"
    backupsets:
      - id: "bs1"
        retention: {type: cycles, value: 3}
        subclients:
          - id: "default"
          - id: "logs"
            retention: {type: days, value: 30}

checkpoint:
  schedule: "*/15 * * * *"
  skew_tolerance: "1m"

aging:
  show_aged_data: true

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Storage.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.BusyTimeout != 2*time.Second {
		t.Errorf("expected busy timeout 2s, got %v", cfg.Storage.BusyTimeout)
	}
	if cfg.Retention.Default != (index.RetentionRule{Type: index.RuleDays, Value: 14}) {
		t.Errorf("unexpected default rule %v", cfg.Retention.Default)
	}
	if cfg.Checkpoint.SkewTolerance != time.Minute {
		t.Errorf("expected skew tolerance 1m, got %v", cfg.Checkpoint.SkewTolerance)
	}
	if !cfg.Aging.ShowAgedData {
		t.Error("expected show_aged_data to be true")
	}

	idx := cfg.Index("client-01")
	if idx == nil {
		t.Fatal("index client-01 not found")
	}
	bs := idx.Backupsets[0]
	if bs.Retention == nil || bs.Retention.Value != 3 {
		t.Errorf("unexpected backupset rule %v", bs.Retention)
	}
	if bs.Subclients[0].Retention != nil {
		t.Errorf("subclient without rule got %v", bs.Subclients[0].Retention)
	}
	if r := bs.Subclients[1].Retention; r == nil || r.Type != index.RuleDays || r.Value != 30 {
		t.Errorf("unexpected subclient rule %v", r)
	}

	// Defaults fill the rest
	if cfg.Checkpoint.RetryAttempts != DefaultCheckpointRetryAttempts {
		t.Errorf("expected default retry attempts, got %d", cfg.Checkpoint.RetryAttempts)
	}
	if cfg.Telemetry.Metrics.Path != DefaultPrometheusPath {
		t.Errorf("expected default metrics path, got %q", cfg.Telemetry.Metrics.Path)
	}
}

func TestLoadConfig_DefaultRetention(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "indexes: [{id: a}]\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	want := index.RetentionRule{Type: index.RuleCycles, Value: 2}
	if cfg.Retention.Default != want {
		t.Errorf("default rule = %v, want %v", cfg.Retention.Default, want)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "storage: [not, a, map")); err == nil {
		t.Error("expected error for malformed YAML")
	}

	_, err := LoadConfig(writeConfig(t, "checkpoint:\n  schedule: \"every day\"\n"))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Errors[0].Field != "checkpoint.schedule" {
		t.Errorf("expected checkpoint.schedule error, got %v", verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "storage:\n  data_dir: /from/file\n")

	t.Setenv("INDEXRETAIN_STORAGE_DATA_DIR", "/from/env")
	t.Setenv("INDEXRETAIN_CHECKPOINT_RETRY_BACKOFF", "45s")
	t.Setenv("INDEXRETAIN_AGING_SHOW_AGED_DATA", "true")
	t.Setenv("INDEXRETAIN_RETENTION_DEFAULT_TYPE", "Days")
	t.Setenv("INDEXRETAIN_RETENTION_DEFAULT_VALUE", "10")
	t.Setenv("INDEXRETAIN_CHECKPOINT_RETRY_ATTEMPTS", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Storage.DataDir != "/from/env" {
		t.Errorf("expected env data dir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Checkpoint.LockDir != "/from/env" {
		t.Errorf("expected lock dir to follow the data dir, got %q", cfg.Checkpoint.LockDir)
	}
	if cfg.Checkpoint.RetryBackoff != 45*time.Second {
		t.Errorf("expected 45s backoff, got %v", cfg.Checkpoint.RetryBackoff)
	}
	if !cfg.Aging.ShowAgedData {
		t.Error("expected show_aged_data override")
	}
	if cfg.Retention.Default != (index.RetentionRule{Type: index.RuleDays, Value: 10}) {
		t.Errorf("unexpected default rule %v", cfg.Retention.Default)
	}
	// Unparseable values are ignored
	if cfg.Checkpoint.RetryAttempts != DefaultCheckpointRetryAttempts {
		t.Errorf("expected default retry attempts, got %d", cfg.Checkpoint.RetryAttempts)
	}
}

func TestApplyDefaults_LockDir(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"sqlite default", Config{}, DefaultStorageDataDir},
		{"sqlite data dir", Config{Storage: StorageConfig{DataDir: "/var/lib/indexretain"}}, "/var/lib/indexretain"},
		{"explicit", Config{Storage: StorageConfig{DataDir: "/data"}, Checkpoint: CheckpointConfig{LockDir: "/run/indexretain"}}, "/run/indexretain"},
		{"memory", Config{Storage: StorageConfig{Backend: "memory"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			ApplyDefaults(&cfg)
			if cfg.Checkpoint.LockDir != tt.want {
				t.Errorf("lock dir = %q, want %q", cfg.Checkpoint.LockDir, tt.want)
			}
		})
	}
}
