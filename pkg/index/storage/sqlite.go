package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"

	"mercator-hq/indexretain/pkg/index"
)

const (
	// DriverModernc is the pure Go driver from modernc.org/sqlite.
	DriverModernc = "sqlite"

	// DriverMattn is the cgo driver from github.com/mattn/go-sqlite3.
	DriverMattn = "sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver: "sqlite" or "sqlite3".
	// Default: "sqlite"
	Driver string

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked by
	// another process.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/index.db",
		Driver:      DriverModernc,
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore implements index.Store on a single SQLite database file.
// The pool is limited to one connection, so every transaction is serialized.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) an index database.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, index.NewStorageError("sqlite", "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.Driver == "" {
		config.Driver = DriverModernc
	}
	if config.Driver != DriverModernc && config.Driver != DriverMattn {
		return nil, index.NewStorageError("sqlite", "open", fmt.Errorf("unsupported driver %q", config.Driver))
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "index.storage.sqlite")

	db, err := sql.Open(config.Driver, config.Path)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite index store initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

// initialize applies pragmas, creates the schema and verifies its version.
func (s *SQLiteStore) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return index.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return index.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return index.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return index.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return index.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return index.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// withTx runs fn inside a transaction and commits it when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return index.NewStorageError("sqlite", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		var se *index.StorageError
		if errors.As(err, &se) || errors.Is(err, index.ErrNotFound) || errors.Is(err, index.ErrDuplicate) {
			return err
		}
		return index.NewStorageError("sqlite", op, err)
	}
	if err := tx.Commit(); err != nil {
		return index.NewStorageError("sqlite", op, err)
	}
	return nil
}

// bumpCounter increments a counter inside tx and returns its new value.
func bumpCounter(ctx context.Context, tx *sql.Tx, name string) (uint64, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = ?`, name); err != nil {
		return 0, err
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v); err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *SQLiteStore) counter(ctx context.Context, name string) (uint64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v); err != nil {
		return 0, index.NewStorageError("sqlite", "read_"+name, err)
	}
	return uint64(v), nil
}

// InsertJob persists a job and advances the log sequence.
func (s *SQLiteStore) InsertJob(ctx context.Context, job *index.Job) (uint64, error) {
	files, err := json.Marshal(archiveFiles(job.ArchiveFiles))
	if err != nil {
		return 0, index.NewStorageError("sqlite", "insert_job", err)
	}

	var seq uint64
	err = s.withTx(ctx, "insert_job", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE job_id = ?`, job.JobID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("job %d: %w", job.JobID, index.ErrDuplicate)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (job_id, backup_type, start_time, end_time, subclient_id, backupset_id, deleted, archive_files)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID, string(job.Type), toNanos(job.StartTime), toNanos(job.EndTime),
			job.SubclientID, job.BackupsetID, boolToInt(job.Deleted), string(files),
		)
		if err != nil {
			return err
		}

		seq, err = bumpCounter(ctx, tx, "log_sequence")
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

const jobColumns = `job_id, backup_type, start_time, end_time, subclient_id, backupset_id, deleted, archive_files`

// GetJob returns a live job.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID int64) (*index.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", jobID, index.ErrNotFound)
	}
	if err != nil {
		return nil, index.NewStorageError("sqlite", "get_job", err)
	}
	return job, nil
}

// ListJobs returns live jobs matching filter ordered by start time, then id.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter index.JobFilter) ([]*index.Job, error) {
	where, args := buildWhereClause(filter)

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time ASC, job_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_jobs", err)
	}
	defer rows.Close()

	var jobs []*index.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, index.NewStorageError("sqlite", "scan_job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_jobs", err)
	}
	return jobs, nil
}

// LatestStart returns the newest start time among live jobs of a subclient.
func (s *SQLiteStore) LatestStart(ctx context.Context, subclientID string) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(start_time) FROM jobs WHERE subclient_id = ?`, subclientID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, index.NewStorageError("sqlite", "latest_start", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(latest.Int64), true, nil
}

// RemoveJob deletes a live job and inserts its prune record in one transaction.
func (s *SQLiteStore) RemoveJob(ctx context.Context, jobID int64, record *index.PruneRecord) (uint64, error) {
	snapshot, err := json.Marshal(record.Snapshot)
	if err != nil {
		return 0, index.NewStorageError("sqlite", "remove_job", err)
	}

	var seq uint64
	err = s.withTx(ctx, "remove_job", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, jobID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("job %d: %w", jobID, index.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO prune_records (job_id, pruned_at, checkpoint_seq, subclient_id, backupset_id, start_time, snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, toNanos(record.PrunedAt), int64(record.CheckpointSeq),
			record.Snapshot.SubclientID, record.Snapshot.BackupsetID,
			toNanos(record.Snapshot.StartTime), string(snapshot),
		)
		if err != nil {
			return err
		}

		seq, err = bumpCounter(ctx, tx, "log_sequence")
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// GetPruneRecord returns the prune record of a job.
func (s *SQLiteStore) GetPruneRecord(ctx context.Context, jobID int64) (*index.PruneRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, pruned_at, checkpoint_seq, snapshot FROM prune_records WHERE job_id = ?`, jobID)
	rec, err := scanPruneRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prune record %d: %w", jobID, index.ErrNotFound)
	}
	if err != nil {
		return nil, index.NewStorageError("sqlite", "get_prune_record", err)
	}
	return rec, nil
}

// ListPruneRecords returns prune records matching filter ordered by snapshot start time.
func (s *SQLiteStore) ListPruneRecords(ctx context.Context, filter index.JobFilter) ([]*index.PruneRecord, error) {
	where, args := buildWhereClause(filter)

	query := `SELECT job_id, pruned_at, checkpoint_seq, snapshot FROM prune_records`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time ASC, job_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_prune_records", err)
	}
	defer rows.Close()

	var records []*index.PruneRecord
	for rows.Next() {
		rec, err := scanPruneRecord(rows)
		if err != nil {
			return nil, index.NewStorageError("sqlite", "scan_prune_record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_prune_records", err)
	}
	return records, nil
}

// UpsertSubclient creates or replaces a subclient, bumping the config
// version when its rule changes.
func (s *SQLiteStore) UpsertSubclient(ctx context.Context, sc *index.Subclient) (bool, error) {
	rule, err := encodeRule(sc.Retention)
	if err != nil {
		return false, index.NewStorageError("sqlite", "upsert_subclient", err)
	}

	changed := false
	err = s.withTx(ctx, "upsert_subclient", func(tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx, `SELECT retention FROM subclients WHERE id = ?`, sc.ID).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			changed = rule != ""
		case err != nil:
			return err
		default:
			changed = prev != rule
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO subclients (id, backupset_id, retention, deleted, deleted_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				backupset_id = excluded.backupset_id,
				retention = excluded.retention,
				deleted = excluded.deleted,
				deleted_at = excluded.deleted_at`,
			sc.ID, sc.BackupsetID, rule, boolToInt(sc.Deleted), toNanos(sc.DeletedAt),
		)
		if err != nil {
			return err
		}

		if changed {
			_, err = bumpCounter(ctx, tx, "config_version")
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// GetSubclient returns a subclient.
func (s *SQLiteStore) GetSubclient(ctx context.Context, id string) (*index.Subclient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, backupset_id, retention, deleted, deleted_at FROM subclients WHERE id = ?`, id)
	sc, err := scanSubclient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subclient %s: %w", id, index.ErrNotFound)
	}
	if err != nil {
		return nil, index.NewStorageError("sqlite", "get_subclient", err)
	}
	return sc, nil
}

// ListSubclients returns every subclient ordered by id.
func (s *SQLiteStore) ListSubclients(ctx context.Context) ([]*index.Subclient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backupset_id, retention, deleted, deleted_at FROM subclients ORDER BY id`)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_subclients", err)
	}
	defer rows.Close()

	var out []*index.Subclient
	for rows.Next() {
		sc, err := scanSubclient(rows)
		if err != nil {
			return nil, index.NewStorageError("sqlite", "scan_subclient", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_subclients", err)
	}
	return out, nil
}

// MarkSubclientDeleted flags a subclient and all its live jobs deleted.
func (s *SQLiteStore) MarkSubclientDeleted(ctx context.Context, id string, at time.Time) (uint64, error) {
	var seq uint64
	err := s.withTx(ctx, "mark_subclient_deleted", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE subclients SET deleted = 1, deleted_at = ? WHERE id = ?`, toNanos(at), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("subclient %s: %w", id, index.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET deleted = 1 WHERE subclient_id = ?`, id); err != nil {
			return err
		}

		seq, err = bumpCounter(ctx, tx, "log_sequence")
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// UpsertBackupset creates or replaces a backupset.
func (s *SQLiteStore) UpsertBackupset(ctx context.Context, bs *index.Backupset) (bool, error) {
	rule, err := encodeRule(bs.Retention)
	if err != nil {
		return false, index.NewStorageError("sqlite", "upsert_backupset", err)
	}

	changed := false
	err = s.withTx(ctx, "upsert_backupset", func(tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx, `SELECT retention FROM backupsets WHERE id = ?`, bs.ID).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			changed = rule != ""
		case err != nil:
			return err
		default:
			changed = prev != rule
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO backupsets (id, retention, deleted) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				retention = excluded.retention,
				deleted = excluded.deleted`,
			bs.ID, rule, boolToInt(bs.Deleted),
		)
		if err != nil {
			return err
		}

		if changed {
			_, err = bumpCounter(ctx, tx, "config_version")
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// GetBackupset returns a backupset.
func (s *SQLiteStore) GetBackupset(ctx context.Context, id string) (*index.Backupset, error) {
	var (
		bs      index.Backupset
		rule    string
		deleted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, retention, deleted FROM backupsets WHERE id = ?`, id).Scan(&bs.ID, &rule, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backupset %s: %w", id, index.ErrNotFound)
	}
	if err != nil {
		return nil, index.NewStorageError("sqlite", "get_backupset", err)
	}

	bs.Deleted = deleted != 0
	if bs.Retention, err = decodeRule(rule); err != nil {
		return nil, index.NewStorageError("sqlite", "get_backupset", err)
	}
	return &bs, nil
}

// MarkBackupsetDeleted flags a backupset deleted.
func (s *SQLiteStore) MarkBackupsetDeleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE backupsets SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return index.NewStorageError("sqlite", "mark_backupset_deleted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return index.NewStorageError("sqlite", "mark_backupset_deleted", err)
	}
	if n == 0 {
		return fmt.Errorf("backupset %s: %w", id, index.ErrNotFound)
	}
	return nil
}

// LogSequence returns the current log sequence.
func (s *SQLiteStore) LogSequence(ctx context.Context) (uint64, error) {
	return s.counter(ctx, "log_sequence")
}

// ConfigVersion returns the current config version.
func (s *SQLiteStore) ConfigVersion(ctx context.Context) (uint64, error) {
	return s.counter(ctx, "config_version")
}

// BumpConfigVersion advances the config version.
func (s *SQLiteStore) BumpConfigVersion(ctx context.Context) (uint64, error) {
	var v uint64
	err := s.withTx(ctx, "bump_config_version", func(tx *sql.Tx) error {
		var err error
		v, err = bumpCounter(ctx, tx, "config_version")
		return err
	})
	return v, err
}

// SaveCheckpoint inserts a checkpoint record. Records are never updated.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *index.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (seq, created_at, as_of, prune_watermark, log_sequence, config_version,
			eligible, pruned, failed, warmup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(cp.Seq), toNanos(cp.CreatedAt), toNanos(cp.AsOf), toNanos(cp.PruneWatermark),
		int64(cp.LogSequence), int64(cp.ConfigVersion),
		cp.Eligible, cp.Pruned, cp.Failed, boolToInt(cp.Warmup),
	)
	if err != nil {
		return index.NewStorageError("sqlite", "save_checkpoint", err)
	}
	return nil
}

const checkpointColumns = `seq, created_at, as_of, prune_watermark, log_sequence, config_version, eligible, pruned, failed, warmup`

// LatestCheckpoint returns the newest checkpoint.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context) (*index.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints ORDER BY seq DESC LIMIT 1`)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint: %w", index.ErrNotFound)
	}
	if err != nil {
		return nil, index.NewStorageError("sqlite", "latest_checkpoint", err)
	}
	return cp, nil
}

// ListCheckpoints returns up to limit checkpoints, newest first. A limit of
// zero or less returns all of them.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, limit int) ([]*index.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_checkpoints", err)
	}
	defer rows.Close()

	var out []*index.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, index.NewStorageError("sqlite", "scan_checkpoint", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_checkpoints", err)
	}
	return out, nil
}

// PutPruneIntent stores a write-ahead intent.
func (s *SQLiteStore) PutPruneIntent(ctx context.Context, intent *index.PruneIntent) error {
	ids, err := json.Marshal(intent.JobIDs)
	if err != nil {
		return index.NewStorageError("sqlite", "put_prune_intent", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prune_intents (batch_id, checkpoint_seq, as_of, job_ids, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (batch_id) DO UPDATE SET job_ids = excluded.job_ids`,
		intent.BatchID, int64(intent.CheckpointSeq), toNanos(intent.AsOf), string(ids), toNanos(intent.CreatedAt),
	)
	if err != nil {
		return index.NewStorageError("sqlite", "put_prune_intent", err)
	}
	return nil
}

// ListPruneIntents returns pending intents, oldest first.
func (s *SQLiteStore) ListPruneIntents(ctx context.Context) ([]*index.PruneIntent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, checkpoint_seq, as_of, job_ids, created_at
		FROM prune_intents ORDER BY created_at ASC, batch_id ASC`)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_prune_intents", err)
	}
	defer rows.Close()

	var out []*index.PruneIntent
	for rows.Next() {
		var (
			intent          index.PruneIntent
			seq             int64
			asOf, createdAt int64
			ids             string
		)
		if err := rows.Scan(&intent.BatchID, &seq, &asOf, &ids, &createdAt); err != nil {
			return nil, index.NewStorageError("sqlite", "scan_prune_intent", err)
		}
		if err := json.Unmarshal([]byte(ids), &intent.JobIDs); err != nil {
			return nil, index.NewStorageError("sqlite", "scan_prune_intent", err)
		}
		intent.CheckpointSeq = uint64(seq)
		intent.AsOf = fromNanos(asOf)
		intent.CreatedAt = fromNanos(createdAt)
		out = append(out, &intent)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_prune_intents", err)
	}
	return out, nil
}

// DeletePruneIntent removes an intent.
func (s *SQLiteStore) DeletePruneIntent(ctx context.Context, batchID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM prune_intents WHERE batch_id = ?`, batchID); err != nil {
		return index.NewStorageError("sqlite", "delete_prune_intent", err)
	}
	return nil
}

// SetStorageAged records a storage-aging marker; the last write wins.
func (s *SQLiteStore) SetStorageAged(ctx context.Context, jobID int64, agedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO storage_aged (job_id, aged_at) VALUES (?, ?)
		ON CONFLICT (job_id) DO UPDATE SET aged_at = excluded.aged_at`,
		jobID, toNanos(agedAt),
	)
	if err != nil {
		return index.NewStorageError("sqlite", "set_storage_aged", err)
	}
	return nil
}

// StorageAged returns the storage-aging marker of a job.
func (s *SQLiteStore) StorageAged(ctx context.Context, jobID int64) (time.Time, bool, error) {
	var at int64
	err := s.db.QueryRowContext(ctx, `SELECT aged_at FROM storage_aged WHERE job_id = ?`, jobID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, index.NewStorageError("sqlite", "storage_aged", err)
	}
	return fromNanos(at), true, nil
}

// ListStorageAged returns every storage-aging marker.
func (s *SQLiteStore) ListStorageAged(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, aged_at FROM storage_aged`)
	if err != nil {
		return nil, index.NewStorageError("sqlite", "list_storage_aged", err)
	}
	defer rows.Close()

	out := make(map[int64]time.Time)
	for rows.Next() {
		var id, at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, index.NewStorageError("sqlite", "list_storage_aged", err)
		}
		out[id] = fromNanos(at)
	}
	if err := rows.Err(); err != nil {
		return nil, index.NewStorageError("sqlite", "list_storage_aged", err)
	}
	return out, nil
}

// GetSetting returns a setting value.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, index.NewStorageError("sqlite", "get_setting", err)
	}
	return v, true, nil
}

// PutSetting stores a setting value.
func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return index.NewStorageError("sqlite", "put_setting", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return index.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return index.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite index store closed", "path", s.config.Path)
	return nil
}

// buildWhereClause builds a WHERE clause (without the keyword) from a filter.
func buildWhereClause(filter index.JobFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.SubclientID != "" {
		conditions = append(conditions, "subclient_id = ?")
		args = append(args, filter.SubclientID)
	}
	if filter.BackupsetID != "" {
		conditions = append(conditions, "backupset_id = ?")
		args = append(args, filter.BackupsetID)
	}

	return strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*index.Job, error) {
	var (
		job          index.Job
		backupType   string
		start, end   int64
		deleted      int
		archiveFiles string
	)
	err := row.Scan(&job.JobID, &backupType, &start, &end,
		&job.SubclientID, &job.BackupsetID, &deleted, &archiveFiles)
	if err != nil {
		return nil, err
	}

	job.Type = index.BackupType(backupType)
	job.StartTime = fromNanos(start)
	job.EndTime = fromNanos(end)
	job.Deleted = deleted != 0
	if archiveFiles != "" && archiveFiles != "[]" {
		if err := json.Unmarshal([]byte(archiveFiles), &job.ArchiveFiles); err != nil {
			return nil, fmt.Errorf("decode archive files of job %d: %w", job.JobID, err)
		}
	}
	return &job, nil
}

func scanPruneRecord(row scanner) (*index.PruneRecord, error) {
	var (
		rec      index.PruneRecord
		prunedAt int64
		seq      int64
		snapshot string
	)
	if err := row.Scan(&rec.JobID, &prunedAt, &seq, &snapshot); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapshot), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot of job %d: %w", rec.JobID, err)
	}
	rec.PrunedAt = fromNanos(prunedAt)
	rec.CheckpointSeq = uint64(seq)
	return &rec, nil
}

func scanSubclient(row scanner) (*index.Subclient, error) {
	var (
		sc        index.Subclient
		rule      string
		deleted   int
		deletedAt int64
	)
	if err := row.Scan(&sc.ID, &sc.BackupsetID, &rule, &deleted, &deletedAt); err != nil {
		return nil, err
	}
	r, err := decodeRule(rule)
	if err != nil {
		return nil, err
	}
	sc.Retention = r
	sc.Deleted = deleted != 0
	sc.DeletedAt = fromNanos(deletedAt)
	return &sc, nil
}

func scanCheckpoint(row scanner) (*index.Checkpoint, error) {
	var (
		cp                         index.Checkpoint
		seq, logSeq, configVer     int64
		createdAt, asOf, watermark int64
		warmup                     int
	)
	err := row.Scan(&seq, &createdAt, &asOf, &watermark, &logSeq, &configVer,
		&cp.Eligible, &cp.Pruned, &cp.Failed, &warmup)
	if err != nil {
		return nil, err
	}
	cp.Seq = uint64(seq)
	cp.CreatedAt = fromNanos(createdAt)
	cp.AsOf = fromNanos(asOf)
	cp.PruneWatermark = fromNanos(watermark)
	cp.LogSequence = uint64(logSeq)
	cp.ConfigVersion = uint64(configVer)
	cp.Warmup = warmup != 0
	return &cp, nil
}

func encodeRule(r *index.RetentionRule) (string, error) {
	if r == nil {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRule(s string) (*index.RetentionRule, error) {
	if s == "" {
		return nil, nil
	}
	var r index.RetentionRule
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("decode retention rule: %w", err)
	}
	return &r, nil
}

func archiveFiles(files []index.ArchiveFile) []index.ArchiveFile {
	if files == nil {
		return []index.ArchiveFile{}
	}
	return files
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ index.Store = (*SQLiteStore)(nil)
