package index

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is wrapped by Store methods when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is wrapped by Store.InsertJob when the job id exists.
	ErrDuplicate = errors.New("duplicate")
)

// InvalidJobError represents a malformed job or job id.
type InvalidJobError struct {
	JobID  int64
	Reason string
}

// Error implements the error interface.
func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid job [job_id=%d]: %s", e.JobID, e.Reason)
}

// NewInvalidJobError creates a new InvalidJobError.
func NewInvalidJobError(jobID int64, reason string) *InvalidJobError {
	return &InvalidJobError{
		JobID:  jobID,
		Reason: reason,
	}
}

// DuplicateJobError is returned when appending a job id that is already
// present in the log or was already pruned.
type DuplicateJobError struct {
	JobID  int64
	Pruned bool // The existing entry is a prune record
}

// Error implements the error interface.
func (e *DuplicateJobError) Error() string {
	if e.Pruned {
		return fmt.Sprintf("duplicate job [job_id=%d]: job was already pruned", e.JobID)
	}
	return fmt.Sprintf("duplicate job [job_id=%d]", e.JobID)
}

// Is lets errors.Is match ErrDuplicate.
func (e *DuplicateJobError) Is(target error) bool {
	return target == ErrDuplicate
}

// NewDuplicateJobError creates a new DuplicateJobError.
func NewDuplicateJobError(jobID int64, pruned bool) *DuplicateJobError {
	return &DuplicateJobError{
		JobID:  jobID,
		Pruned: pruned,
	}
}

// OutOfOrderError is returned when a job starts earlier than the newest job
// of its subclient by more than the skew tolerance.
type OutOfOrderError struct {
	JobID       int64
	SubclientID string
	StartTime   time.Time
	LatestStart time.Time
	Tolerance   time.Duration
}

// Error implements the error interface.
func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out-of-order job [job_id=%d, subclient=%s]: start %s precedes latest %s by more than %s",
		e.JobID, e.SubclientID,
		e.StartTime.Format(time.RFC3339), e.LatestStart.Format(time.RFC3339), e.Tolerance)
}

// NewOutOfOrderError creates a new OutOfOrderError.
func NewOutOfOrderError(job *Job, latest time.Time, tolerance time.Duration) *OutOfOrderError {
	return &OutOfOrderError{
		JobID:       job.JobID,
		SubclientID: job.SubclientID,
		StartTime:   job.StartTime,
		LatestStart: latest,
		Tolerance:   tolerance,
	}
}

// JobNotFoundError is returned when removing a job that is not in the log.
type JobNotFoundError struct {
	JobID int64
}

// Error implements the error interface.
func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found [job_id=%d]", e.JobID)
}

// Is lets errors.Is match ErrNotFound.
func (e *JobNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewJobNotFoundError creates a new JobNotFoundError.
func NewJobNotFoundError(jobID int64) *JobNotFoundError {
	return &JobNotFoundError{JobID: jobID}
}

// SubclientDeletedError is returned when appending to a deleted subclient.
type SubclientDeletedError struct {
	SubclientID string
}

// Error implements the error interface.
func (e *SubclientDeletedError) Error() string {
	return fmt.Sprintf("subclient %s is deleted", e.SubclientID)
}

// CheckpointConflictError is returned when a checkpoint is already running
// for the same index. Callers back off and retry.
type CheckpointConflictError struct {
	IndexID string
	Holder  string // "process" or the lock file path
}

// Error implements the error interface.
func (e *CheckpointConflictError) Error() string {
	return fmt.Sprintf("checkpoint already running [index=%s, holder=%s]", e.IndexID, e.Holder)
}

// NewCheckpointConflictError creates a new CheckpointConflictError.
func NewCheckpointConflictError(indexID, holder string) *CheckpointConflictError {
	return &CheckpointConflictError{
		IndexID: indexID,
		Holder:  holder,
	}
}

// RetainedJobError is reported by the compactor when asked to prune a job
// that is still inside its retention window.
type RetainedJobError struct {
	JobID       int64
	SubclientID string
}

// Error implements the error interface.
func (e *RetainedJobError) Error() string {
	return fmt.Sprintf("job %d of subclient %s is still retained", e.JobID, e.SubclientID)
}

// UnknownScopeError is returned by browse for an id that is neither a
// subclient nor a backupset of the index.
type UnknownScopeError struct {
	Scope string
}

// Error implements the error interface.
func (e *UnknownScopeError) Error() string {
	return fmt.Sprintf("unknown browse scope %q", e.Scope)
}

// NotFoundError is returned by restore when browse would return nothing.
type NotFoundError struct {
	Scope string
	JobID int64
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no browsable data [scope=%s, job_id=%d]", e.Scope, e.JobID)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError represents an error from the storage backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("insert_job", "remove_job", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// ArchiveError represents an error while archiving job metadata before pruning.
type ArchiveError struct {
	Backend  string // Archive backend ("file", "s3")
	JobCount int    // Number of jobs being archived
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive error [backend=%s, job_count=%d]: %v", e.Backend, e.JobCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ArchiveError) Unwrap() error {
	return e.Cause
}

// NewArchiveError creates a new ArchiveError.
func NewArchiveError(backend string, jobCount int, cause error) *ArchiveError {
	return &ArchiveError{
		Backend:  backend,
		JobCount: jobCount,
		Cause:    cause,
	}
}
