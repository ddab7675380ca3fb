// Package index defines the data model of the per-entity backup index and the
// contracts shared by the retention and pruning engine.
//
// # Architecture
//
// One logical index exists per backed-up data source. Each index is made of:
//
//  1. JobLog - append-only ledger of completed backup jobs (package joblog)
//  2. Retention Policy - decides which jobs are eligible for pruning (package retention)
//  3. Checkpoint Manager - periodic evaluation and compaction trigger (package checkpoint)
//  4. Compactor - crash-safe removal of pruned jobs (package compactor)
//  5. Aging Coordinator - storage-aging notices and aged-data visibility (package aging)
//  6. Browse Resolver - the read path for browse and restore (package browse)
//
// All of them persist through the Store interface defined here; package
// storage provides the in-memory and SQLite implementations.
//
// # Cycles
//
// A cycle is the run of jobs opened by a Full or SyntheticFull backup up to,
// but excluding, the next one. Cycles are never stored: GroupCycles derives
// them from jobs ordered by start time. A cycle is identified by the job id of
// its opening full, so its identity survives pruning.
//
//	F1 I1 | SF1 I2 | SF2 I3 | SF3 I4
//	cycle F1  cycle SF1  cycle SF2  cycle SF3 (trailing, in progress)
//
// # Pruning Flow
//
//	Checkpoint Manager (lease held)
//	     ↓
//	Snapshot log sequence + config version
//	     ↓
//	Retention Policy per subclient → eligible job set
//	     ↓
//	Compactor: write-ahead intent → per job {remove + prune record} → clear intent
//	     ↓
//	Checkpoint record (always written unless the run was a no-op)
//
// # Visibility
//
// A job present in the log is always visible to browse. A pruned job is only
// visible while ShowAgedDataForBrowseAndRecovery is enabled, and is then
// synthesized from the metadata snapshot kept in its PruneRecord.
//
// # Thread Safety
//
// Store implementations must be safe for concurrent use. Higher level
// components document their own guarantees.
package index
