// Package joblog implements the append-only ledger of backup jobs for one
// index.
//
// Appends are validated, checked for duplicates (live or already pruned) and
// for starts that run too far behind the newest job of the same subclient.
// Cycle ids are never stored; they are derived on every read from the
// subclient's live jobs.
//
// The write side (Remove, DeleteSubclient, DeleteBackupset) belongs to the
// compactor and the engine. Evaluation and browse depend on Reader only.
package joblog
