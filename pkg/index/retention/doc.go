// Package retention decides which jobs of a subclient fall outside the
// retention window.
//
// A subclient is covered by its own rule (the index default when it has
// none) and by its backupset's rule when one is set. A job is eligible only
// when every covering rule agrees, so the most conservative rule wins.
//
// Cycles rules keep the N newest complete cycles. The trailing cycle of a
// subclient is never complete. Days rules age jobs individually by end time,
// but never release an anchor whose cycle still has retained jobs, nor the
// anchor of the newest cycle.
//
// Evaluation is read-only: the policy never removes anything itself.
package retention
