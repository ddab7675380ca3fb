// Package browse answers browse and restore queries against one index.
//
// A query names a scope, either a subclient or a backupset, and optionally a
// job. Live jobs are always visible, including those whose owner was deleted.
// Pruned jobs are visible only when the request carries ShowAgedData, which
// callers read from the ShowAgedDataForBrowseAndRecovery setting. An empty
// result is not an error; Restore turns it into a NotFoundError.
package browse
