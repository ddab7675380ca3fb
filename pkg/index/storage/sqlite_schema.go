package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements that create one index database.
// Timestamps are stored as Unix nanoseconds (0 for the zero time) so both
// SQLite drivers round-trip them identically.
const Schema = `
-- Live jobs
CREATE TABLE IF NOT EXISTS jobs (
    job_id INTEGER PRIMARY KEY,
    backup_type TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER NOT NULL,
    subclient_id TEXT NOT NULL,
    backupset_id TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0,
    archive_files TEXT NOT NULL DEFAULT '[]'
);

-- Pruned jobs with their last known metadata
CREATE TABLE IF NOT EXISTS prune_records (
    job_id INTEGER PRIMARY KEY,
    pruned_at INTEGER NOT NULL,
    checkpoint_seq INTEGER NOT NULL,
    subclient_id TEXT NOT NULL,
    backupset_id TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,
    snapshot TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subclients (
    id TEXT PRIMARY KEY,
    backupset_id TEXT NOT NULL DEFAULT '',
    retention TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backupsets (
    id TEXT PRIMARY KEY,
    retention TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0
);

-- Immutable checkpoint history
CREATE TABLE IF NOT EXISTS checkpoints (
    seq INTEGER PRIMARY KEY,
    created_at INTEGER NOT NULL,
    as_of INTEGER NOT NULL,
    prune_watermark INTEGER NOT NULL,
    log_sequence INTEGER NOT NULL,
    config_version INTEGER NOT NULL,
    eligible INTEGER NOT NULL,
    pruned INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    warmup INTEGER NOT NULL
);

-- Compactor write-ahead intents
CREATE TABLE IF NOT EXISTS prune_intents (
    batch_id TEXT PRIMARY KEY,
    checkpoint_seq INTEGER NOT NULL,
    as_of INTEGER NOT NULL,
    job_ids TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

-- Storage-aging markers, independent of job lifecycle
CREATE TABLE IF NOT EXISTS storage_aged (
    job_id INTEGER PRIMARY KEY,
    aged_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Monotonic counters (log_sequence, config_version)
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_subclient_start ON jobs(subclient_id, start_time, job_id);
CREATE INDEX IF NOT EXISTS idx_jobs_backupset ON jobs(backupset_id);
CREATE INDEX IF NOT EXISTS idx_prune_records_subclient ON prune_records(subclient_id, start_time);
CREATE INDEX IF NOT EXISTS idx_prune_records_backupset ON prune_records(backupset_id);

INSERT INTO counters (name, value) VALUES ('log_sequence', 0) ON CONFLICT(name) DO NOTHING;
INSERT INTO counters (name, value) VALUES ('config_version', 0) ON CONFLICT(name) DO NOTHING;
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
