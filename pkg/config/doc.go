// Package config provides configuration management for indexretain.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden from the environment and validated.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("indexretain.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention INDEXRETAIN_SECTION_FIELD:
//
//   - INDEXRETAIN_STORAGE_DATA_DIR overrides storage.data_dir
//   - INDEXRETAIN_CHECKPOINT_SCHEDULE overrides checkpoint.schedule
//   - INDEXRETAIN_AGING_SHOW_AGED_DATA overrides aging.show_aged_data
//   - INDEXRETAIN_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and, after a short
// debounce, reloads it through ReloadConfig. Retention rule changes take
// effect at the next checkpoint.
//
// # Example Configuration
//
//	storage:
//	  backend: "sqlite"
//	  data_dir: "/var/lib/indexretain"
//
//	retention:
//	  default: {type: cycles, value: 2}
//
//	indexes:
//	  - id: "client-01"
//	    backupsets:
//	      - id: "defaultBackupSet"
//	        subclients:
//	          - id: "default"
//	          - id: "logs"
//	            retention: {type: days, value: 30}
//
//	checkpoint:
//	  schedule: "0 */6 * * *"
//	  lock_dir: "/run/indexretain"
//
// # Thread Safety
//
// The singleton accessors are safe for concurrent use.
package config
