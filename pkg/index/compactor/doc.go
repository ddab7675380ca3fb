// Package compactor removes pruned jobs from an index.
//
// A batch is handled in three steps. The jobs are archived when an archiver
// is configured, a PruneIntent listing the batch is persisted, and then every
// job is removed together with its PruneRecord in one atomic store step. The
// intent is cleared once every job has been handled.
//
// Removals are committed one job at a time, so a crash leaves a consistent,
// partly pruned index. Recover replays pending intents after a restart.
// Replaying is idempotent: a job that is already pruned counts as such and
// is not an error.
package compactor
