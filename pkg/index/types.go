package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// BackupType is the kind of backup a job performed.
type BackupType string

const (
	// BackupFull is a full backup; it opens a new cycle.
	BackupFull BackupType = "full"

	// BackupIncremental is an incremental backup; it extends the current cycle.
	BackupIncremental BackupType = "incremental"

	// BackupSyntheticFull is a synthetic full backup; it closes the previous
	// cycle and opens a new one.
	BackupSyntheticFull BackupType = "synthetic_full"
)

// ParseBackupType parses a backup type name. Matching is case-insensitive and
// accepts "-" or " " in place of "_".
func ParseBackupType(s string) (BackupType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch normalized {
	case "full":
		return BackupFull, nil
	case "incremental", "incr":
		return BackupIncremental, nil
	case "synthetic_full", "syntheticfull", "synth_full":
		return BackupSyntheticFull, nil
	default:
		return "", fmt.Errorf("unknown backup type %q", s)
	}
}

// Valid reports whether t is a known backup type.
func (t BackupType) Valid() bool {
	switch t {
	case BackupFull, BackupIncremental, BackupSyntheticFull:
		return true
	}
	return false
}

// OpensCycle reports whether a job of this type starts a new cycle.
func (t BackupType) OpensCycle() bool {
	return t == BackupFull || t == BackupSyntheticFull
}

// ArchiveFile is a restorable unit referenced by a job's index entries.
type ArchiveFile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Job is one completed backup execution recorded in the index.
type Job struct {
	// Identity
	JobID   int64      `json:"job_id"`
	CycleID int64      `json:"cycle_id"` // Job id of the cycle's opening full, derived on read
	Type    BackupType `json:"backup_type"`

	// Timing
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// Ownership
	SubclientID string `json:"subclient_id"`
	BackupsetID string `json:"backupset_id"`

	// Deleted is set once the owning subclient or backupset is removed.
	// The job's index data is kept and still follows retention.
	Deleted bool `json:"deleted"`

	// Restorable content
	ArchiveFiles []ArchiveFile `json:"archive_files,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ArchiveFiles != nil {
		c.ArchiveFiles = append([]ArchiveFile(nil), j.ArchiveFiles...)
	}
	return &c
}

// Validate checks the fields every appended job must carry.
func (j *Job) Validate() error {
	switch {
	case j == nil:
		return NewInvalidJobError(0, "job is nil")
	case j.JobID <= 0:
		return NewInvalidJobError(j.JobID, "job id must be positive")
	case !j.Type.Valid():
		return NewInvalidJobError(j.JobID, fmt.Sprintf("unknown backup type %q", j.Type))
	case j.SubclientID == "":
		return NewInvalidJobError(j.JobID, "subclient id is required")
	case j.StartTime.IsZero():
		return NewInvalidJobError(j.JobID, "start time is required")
	case j.EndTime.Before(j.StartTime):
		return NewInvalidJobError(j.JobID, "end time precedes start time")
	}
	return nil
}

// Cycle is a derived grouping of jobs delimited by full backups.
type Cycle struct {
	// ID is the job id of the opening full, or 0 for incrementals that
	// precede any full.
	ID int64

	// Anchor is the opening Full/SyntheticFull job; nil for an anchorless cycle.
	Anchor *Job

	// Jobs are the cycle's jobs ordered by start time, anchor first.
	Jobs []*Job
}

// RuleType selects how a retention rule measures the window.
type RuleType string

const (
	// RuleCycles keeps the N most recent complete cycles.
	RuleCycles RuleType = "cycles"

	// RuleDays keeps jobs that ended within the last N days.
	RuleDays RuleType = "days"
)

// RetentionRule is a retention configuration attached to a subclient or
// backupset.
type RetentionRule struct {
	Type  RuleType `json:"type" yaml:"type"`
	Value int      `json:"value" yaml:"value"`
}

// String implements fmt.Stringer.
func (r RetentionRule) String() string {
	return fmt.Sprintf("%s=%d", r.Type, r.Value)
}

// Validate checks that the rule is usable.
func (r RetentionRule) Validate() error {
	if r.Type != RuleCycles && r.Type != RuleDays {
		return fmt.Errorf("retention type must be %q or %q, got %q", RuleCycles, RuleDays, r.Type)
	}
	if r.Value <= 0 {
		return fmt.Errorf("retention value must be positive, got %d", r.Value)
	}
	return nil
}

// RulesEqual reports whether two optional rules are the same.
func RulesEqual(a, b *RetentionRule) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Subclient is the unit of backup content jobs belong to.
type Subclient struct {
	ID          string         `json:"id"`
	BackupsetID string         `json:"backupset_id"`
	Retention   *RetentionRule `json:"retention,omitempty"` // nil = index default
	Deleted     bool           `json:"deleted"`
	DeletedAt   time.Time      `json:"deleted_at,omitempty"`
}

// Backupset groups subclients. Its rule, when set, also covers every job of
// its subclients.
type Backupset struct {
	ID        string         `json:"id"`
	Retention *RetentionRule `json:"retention,omitempty"`
	Deleted   bool           `json:"deleted"`
}

// Checkpoint is one immutable record of a checkpoint pass.
type Checkpoint struct {
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`

	// AsOf is the evaluation time used by days rules.
	AsOf time.Time `json:"as_of"`

	// PruneWatermark is the newest end time among jobs found eligible on this
	// pass; zero when nothing was eligible.
	PruneWatermark time.Time `json:"prune_watermark"`

	// Inputs observed at the start of the pass.
	LogSequence   uint64 `json:"log_sequence"`
	ConfigVersion uint64 `json:"config_version"`

	// Outcome
	Eligible int  `json:"eligible"`
	Pruned   int  `json:"pruned"`
	Failed   int  `json:"failed"`
	Warmup   bool `json:"warmup"`
}

// PruneRecord marks a job whose index data has been discarded.
type PruneRecord struct {
	JobID         int64     `json:"job_id"`
	PrunedAt      time.Time `json:"pruned_at"`
	CheckpointSeq uint64    `json:"checkpoint_seq"`

	// Snapshot is the last known job metadata, used to answer browse
	// requests for aged data.
	Snapshot Job `json:"snapshot"`
}

// PruneIntent is the compactor's write-ahead record of a batch in progress.
type PruneIntent struct {
	BatchID       string    `json:"batch_id"`
	CheckpointSeq uint64    `json:"checkpoint_seq"`
	AsOf          time.Time `json:"as_of"`
	JobIDs        []int64   `json:"job_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// Visible reasons reported on JobView.
const (
	ReasonLive         = "live"
	ReasonOwnerDeleted = "owner-deleted"
	ReasonAgedOverride = "aged-override"
)

// ShowAgedDataSetting is the name of the global aged-data visibility toggle.
const ShowAgedDataSetting = "ShowAgedDataForBrowseAndRecovery"

// JobView is what browse returns for a visible job.
type JobView struct {
	JobID         int64      `json:"job_id"`
	CycleID       int64      `json:"cycle_id"`
	BackupType    BackupType `json:"backup_type"`
	SubclientID   string     `json:"subclient_id"`
	BackupsetID   string     `json:"backupset_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	VisibleReason string     `json:"visible_reason"`
	StorageAged   bool       `json:"storage_aged"`
}

// JobSet is a set of job ids.
type JobSet map[int64]struct{}

// NewJobSet returns a set holding ids.
func NewJobSet(ids ...int64) JobSet {
	s := make(JobSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s JobSet) Add(id int64) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s JobSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Union adds every id of other to s.
func (s JobSet) Union(other JobSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Intersect returns the ids present in both sets.
func (s JobSet) Intersect(other JobSet) JobSet {
	out := make(JobSet)
	for id := range s {
		if other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Sorted returns the ids in ascending order.
func (s JobSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// JobFilter selects jobs from the store. Empty fields match everything.
type JobFilter struct {
	SubclientID string
	BackupsetID string
}

// Store is the durable index database behind one logical index.
// Implementations must be safe for concurrent use.
//
// Every method that mutates jobs (InsertJob, RemoveJob, MarkSubclientDeleted)
// increments the log sequence in the same atomic step and returns the new
// value. UpsertSubclient and UpsertBackupset increment the config version when
// a retention rule changes.
type Store interface {
	// InsertJob persists a job. Returns an error wrapping ErrDuplicate if the
	// job id already exists.
	InsertJob(ctx context.Context, job *Job) (uint64, error)

	// GetJob returns a live job or an error wrapping ErrNotFound.
	GetJob(ctx context.Context, jobID int64) (*Job, error)

	// ListJobs returns live jobs ordered by start time, then job id.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// LatestStart returns the newest start time among live jobs of a subclient.
	LatestStart(ctx context.Context, subclientID string) (time.Time, bool, error)

	// RemoveJob deletes a live job and writes its prune record atomically.
	// Returns an error wrapping ErrNotFound if the job is not live.
	RemoveJob(ctx context.Context, jobID int64, record *PruneRecord) (uint64, error)

	// GetPruneRecord returns a prune record or an error wrapping ErrNotFound.
	GetPruneRecord(ctx context.Context, jobID int64) (*PruneRecord, error)

	// ListPruneRecords returns prune records whose snapshot matches filter,
	// ordered by snapshot start time.
	ListPruneRecords(ctx context.Context, filter JobFilter) ([]*PruneRecord, error)

	// UpsertSubclient creates or updates a subclient. Returns true when its
	// retention rule changed.
	UpsertSubclient(ctx context.Context, sc *Subclient) (bool, error)

	// GetSubclient returns a subclient or an error wrapping ErrNotFound.
	GetSubclient(ctx context.Context, id string) (*Subclient, error)

	// ListSubclients returns all subclients ordered by id, deleted ones included.
	ListSubclients(ctx context.Context) ([]*Subclient, error)

	// MarkSubclientDeleted flags the subclient and all its live jobs deleted.
	MarkSubclientDeleted(ctx context.Context, id string, at time.Time) (uint64, error)

	// UpsertBackupset creates or updates a backupset. Returns true when its
	// retention rule changed.
	UpsertBackupset(ctx context.Context, bs *Backupset) (bool, error)

	// GetBackupset returns a backupset or an error wrapping ErrNotFound.
	GetBackupset(ctx context.Context, id string) (*Backupset, error)

	// MarkBackupsetDeleted flags the backupset deleted.
	MarkBackupsetDeleted(ctx context.Context, id string) error

	// LogSequence returns the current log sequence.
	LogSequence(ctx context.Context) (uint64, error)

	// ConfigVersion returns the current retention configuration version.
	ConfigVersion(ctx context.Context) (uint64, error)

	// BumpConfigVersion advances the config version for rule changes the
	// store does not see, such as a new index default.
	BumpConfigVersion(ctx context.Context) (uint64, error)

	// SaveCheckpoint persists a checkpoint record.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LatestCheckpoint returns the newest checkpoint or an error wrapping ErrNotFound.
	LatestCheckpoint(ctx context.Context) (*Checkpoint, error)

	// ListCheckpoints returns up to limit newest checkpoints, newest first.
	ListCheckpoints(ctx context.Context, limit int) ([]*Checkpoint, error)

	// PutPruneIntent persists a write-ahead intent.
	PutPruneIntent(ctx context.Context, intent *PruneIntent) error

	// ListPruneIntents returns pending intents, oldest first.
	ListPruneIntents(ctx context.Context) ([]*PruneIntent, error)

	// DeletePruneIntent clears an intent. Deleting a missing intent is not an error.
	DeletePruneIntent(ctx context.Context, batchID string) error

	// SetStorageAged records a storage-aging marker (last write wins).
	SetStorageAged(ctx context.Context, jobID int64, agedAt time.Time) error

	// StorageAged returns the storage-aging marker of a job.
	StorageAged(ctx context.Context, jobID int64) (time.Time, bool, error)

	// ListStorageAged returns every storage-aging marker.
	ListStorageAged(ctx context.Context) (map[int64]time.Time, error)

	// GetSetting returns a persisted setting.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// PutSetting persists a setting.
	PutSetting(ctx context.Context, key, value string) error

	// Ping checks that the store is usable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
