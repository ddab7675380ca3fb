package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/indexretain/pkg/index"
)

// MemoryStore implements index.Store using in-memory maps.
// It is used by unit tests and by the "memory" storage backend; nothing
// survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	jobs        map[int64]*index.Job
	pruned      map[int64]*index.PruneRecord
	subclients  map[string]*index.Subclient
	backupsets  map[string]*index.Backupset
	checkpoints []*index.Checkpoint
	intents     map[string]*index.PruneIntent
	aged        map[int64]time.Time
	settings    map[string]string

	logSeq    uint64
	configVer uint64
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[int64]*index.Job),
		pruned:     make(map[int64]*index.PruneRecord),
		subclients: make(map[string]*index.Subclient),
		backupsets: make(map[string]*index.Backupset),
		intents:    make(map[string]*index.PruneIntent),
		aged:       make(map[int64]time.Time),
		settings:   make(map[string]string),
	}
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return index.NewStorageError("memory", op, fmt.Errorf("store is closed"))
	}
	return nil
}

// InsertJob stores a copy of job and advances the log sequence.
func (s *MemoryStore) InsertJob(ctx context.Context, job *index.Job) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("insert_job"); err != nil {
		return 0, err
	}
	if _, ok := s.jobs[job.JobID]; ok {
		return 0, fmt.Errorf("job %d: %w", job.JobID, index.ErrDuplicate)
	}

	s.jobs[job.JobID] = job.Clone()
	s.logSeq++
	return s.logSeq, nil
}

// GetJob returns a copy of a live job.
func (s *MemoryStore) GetJob(ctx context.Context, jobID int64) (*index.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", jobID, index.ErrNotFound)
	}
	return job.Clone(), nil
}

// ListJobs returns copies of the live jobs matching filter.
func (s *MemoryStore) ListJobs(ctx context.Context, filter index.JobFilter) ([]*index.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*index.Job
	for _, job := range s.jobs {
		if matches(job, filter) {
			jobs = append(jobs, job.Clone())
		}
	}
	index.SortJobs(jobs)
	return jobs, nil
}

// LatestStart returns the newest start time among live jobs of a subclient.
func (s *MemoryStore) LatestStart(ctx context.Context, subclientID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, job := range s.jobs {
		if job.SubclientID != subclientID {
			continue
		}
		if !found || job.StartTime.After(latest) {
			latest = job.StartTime
			found = true
		}
	}
	return latest, found, nil
}

// RemoveJob deletes a live job and records its prune record in one step.
func (s *MemoryStore) RemoveJob(ctx context.Context, jobID int64, record *index.PruneRecord) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("remove_job"); err != nil {
		return 0, err
	}
	if _, ok := s.jobs[jobID]; !ok {
		return 0, fmt.Errorf("job %d: %w", jobID, index.ErrNotFound)
	}

	rec := *record
	rec.Snapshot = *record.Snapshot.Clone()
	delete(s.jobs, jobID)
	s.pruned[jobID] = &rec
	s.logSeq++
	return s.logSeq, nil
}

// GetPruneRecord returns a copy of a prune record.
func (s *MemoryStore) GetPruneRecord(ctx context.Context, jobID int64) (*index.PruneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pruned[jobID]
	if !ok {
		return nil, fmt.Errorf("prune record %d: %w", jobID, index.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// ListPruneRecords returns copies of prune records whose snapshot matches filter.
func (s *MemoryStore) ListPruneRecords(ctx context.Context, filter index.JobFilter) ([]*index.PruneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*index.PruneRecord
	for _, rec := range s.pruned {
		if matches(&rec.Snapshot, filter) {
			records = append(records, cloneRecord(rec))
		}
	}
	sort.Slice(records, func(i, k int) bool {
		a, b := records[i].Snapshot, records[k].Snapshot
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.JobID < b.JobID
	})
	return records, nil
}

// UpsertSubclient creates or replaces a subclient.
func (s *MemoryStore) UpsertSubclient(ctx context.Context, sc *index.Subclient) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("upsert_subclient"); err != nil {
		return false, err
	}

	changed := true
	if prev, ok := s.subclients[sc.ID]; ok {
		changed = !index.RulesEqual(prev.Retention, sc.Retention)
	} else if sc.Retention == nil {
		changed = false
	}
	if changed {
		s.configVer++
	}

	s.subclients[sc.ID] = cloneSubclient(sc)
	return changed, nil
}

// GetSubclient returns a copy of a subclient.
func (s *MemoryStore) GetSubclient(ctx context.Context, id string) (*index.Subclient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.subclients[id]
	if !ok {
		return nil, fmt.Errorf("subclient %s: %w", id, index.ErrNotFound)
	}
	return cloneSubclient(sc), nil
}

// ListSubclients returns every subclient ordered by id.
func (s *MemoryStore) ListSubclients(ctx context.Context) ([]*index.Subclient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*index.Subclient, 0, len(s.subclients))
	for _, sc := range s.subclients {
		out = append(out, cloneSubclient(sc))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// MarkSubclientDeleted flags a subclient and its live jobs deleted.
func (s *MemoryStore) MarkSubclientDeleted(ctx context.Context, id string, at time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("mark_subclient_deleted"); err != nil {
		return 0, err
	}
	sc, ok := s.subclients[id]
	if !ok {
		return 0, fmt.Errorf("subclient %s: %w", id, index.ErrNotFound)
	}

	sc.Deleted = true
	sc.DeletedAt = at
	for _, job := range s.jobs {
		if job.SubclientID == id {
			job.Deleted = true
		}
	}
	s.logSeq++
	return s.logSeq, nil
}

// UpsertBackupset creates or replaces a backupset.
func (s *MemoryStore) UpsertBackupset(ctx context.Context, bs *index.Backupset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("upsert_backupset"); err != nil {
		return false, err
	}

	changed := true
	if prev, ok := s.backupsets[bs.ID]; ok {
		changed = !index.RulesEqual(prev.Retention, bs.Retention)
	} else if bs.Retention == nil {
		changed = false
	}
	if changed {
		s.configVer++
	}

	s.backupsets[bs.ID] = cloneBackupset(bs)
	return changed, nil
}

// GetBackupset returns a copy of a backupset.
func (s *MemoryStore) GetBackupset(ctx context.Context, id string) (*index.Backupset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bs, ok := s.backupsets[id]
	if !ok {
		return nil, fmt.Errorf("backupset %s: %w", id, index.ErrNotFound)
	}
	return cloneBackupset(bs), nil
}

// MarkBackupsetDeleted flags a backupset deleted.
func (s *MemoryStore) MarkBackupsetDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bs, ok := s.backupsets[id]
	if !ok {
		return fmt.Errorf("backupset %s: %w", id, index.ErrNotFound)
	}
	bs.Deleted = true
	return nil
}

// LogSequence returns the current log sequence.
func (s *MemoryStore) LogSequence(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logSeq, nil
}

// ConfigVersion returns the current config version.
func (s *MemoryStore) ConfigVersion(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configVer, nil
}

// BumpConfigVersion advances the config version.
func (s *MemoryStore) BumpConfigVersion(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("bump_config_version"); err != nil {
		return 0, err
	}
	s.configVer++
	return s.configVer, nil
}

// SaveCheckpoint appends a checkpoint record.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *index.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("save_checkpoint"); err != nil {
		return err
	}
	if n := len(s.checkpoints); n > 0 && cp.Seq <= s.checkpoints[n-1].Seq {
		return index.NewStorageError("memory", "save_checkpoint",
			fmt.Errorf("checkpoint seq %d is not after %d", cp.Seq, s.checkpoints[n-1].Seq))
	}

	c := *cp
	s.checkpoints = append(s.checkpoints, &c)
	return nil
}

// LatestCheckpoint returns the newest checkpoint.
func (s *MemoryStore) LatestCheckpoint(ctx context.Context) (*index.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.checkpoints) == 0 {
		return nil, fmt.Errorf("checkpoint: %w", index.ErrNotFound)
	}
	c := *s.checkpoints[len(s.checkpoints)-1]
	return &c, nil
}

// ListCheckpoints returns up to limit checkpoints, newest first.
func (s *MemoryStore) ListCheckpoints(ctx context.Context, limit int) ([]*index.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*index.Checkpoint
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := *s.checkpoints[i]
		out = append(out, &c)
	}
	return out, nil
}

// PutPruneIntent stores a write-ahead intent.
func (s *MemoryStore) PutPruneIntent(ctx context.Context, intent *index.PruneIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("put_prune_intent"); err != nil {
		return err
	}
	c := *intent
	c.JobIDs = append([]int64(nil), intent.JobIDs...)
	s.intents[intent.BatchID] = &c
	return nil
}

// ListPruneIntents returns pending intents, oldest first.
func (s *MemoryStore) ListPruneIntents(ctx context.Context) ([]*index.PruneIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*index.PruneIntent, 0, len(s.intents))
	for _, intent := range s.intents {
		c := *intent
		c.JobIDs = append([]int64(nil), intent.JobIDs...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].BatchID < out[k].BatchID
	})
	return out, nil
}

// DeletePruneIntent removes an intent.
func (s *MemoryStore) DeletePruneIntent(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, batchID)
	return nil
}

// SetStorageAged records a storage-aging marker.
func (s *MemoryStore) SetStorageAged(ctx context.Context, jobID int64, agedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("set_storage_aged"); err != nil {
		return err
	}
	s.aged[jobID] = agedAt
	return nil
}

// StorageAged returns the storage-aging marker of a job.
func (s *MemoryStore) StorageAged(ctx context.Context, jobID int64) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.aged[jobID]
	return at, ok, nil
}

// ListStorageAged returns a copy of every storage-aging marker.
func (s *MemoryStore) ListStorageAged(ctx context.Context) (map[int64]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]time.Time, len(s.aged))
	for id, at := range s.aged {
		out[id] = at
	}
	return out, nil
}

// GetSetting returns a setting value.
func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.settings[key]
	return v, ok, nil
}

// PutSetting stores a setting value.
func (s *MemoryStore) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("put_setting"); err != nil {
		return err
	}
	s.settings[key] = value
	return nil
}

// Ping reports whether the store is still open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen("ping")
}

// Close marks the store closed. Subsequent writes fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func matches(job *index.Job, filter index.JobFilter) bool {
	if filter.SubclientID != "" && job.SubclientID != filter.SubclientID {
		return false
	}
	if filter.BackupsetID != "" && job.BackupsetID != filter.BackupsetID {
		return false
	}
	return true
}

func cloneRecord(rec *index.PruneRecord) *index.PruneRecord {
	c := *rec
	c.Snapshot = *rec.Snapshot.Clone()
	return &c
}

func cloneSubclient(sc *index.Subclient) *index.Subclient {
	c := *sc
	if sc.Retention != nil {
		r := *sc.Retention
		c.Retention = &r
	}
	return &c
}

func cloneBackupset(bs *index.Backupset) *index.Backupset {
	c := *bs
	if bs.Retention != nil {
		r := *bs.Retention
		c.Retention = &r
	}
	return &c
}

var _ index.Store = (*MemoryStore)(nil)
