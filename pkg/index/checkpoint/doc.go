// Package checkpoint runs retention checkpoints for one index.
//
// A checkpoint moves through the states
//
//	IDLE → EVALUATING → NOTHING_TO_DO | PRUNE_PENDING → COMPACTING → IDLE
//
// Only one checkpoint may run per index. A second caller fails fast with a
// CheckpointConflictError; when a lock directory is configured the lease is
// also held across processes.
//
// The first checkpoint of an index is a warm-up: it records the current
// state and prunes nothing. Later checkpoints evaluate every subclient and
// hand the union of eligible jobs to the compactor. Nothing is written when
// neither the job log nor the retention configuration changed since a
// checkpoint that was not a warm-up and pruned everything it planned to, and
// no days rule is in force.
package checkpoint
