// Package aging tracks storage-layer aging and gates visibility of pruned
// jobs.
//
// Storage aging is decided outside the engine. Notices arrive as Events,
// possibly repeated and out of order, and are stored as advisory markers
// that never influence pruning. A SpoolWatcher turns JSON files dropped into
// a directory into Events.
//
// Pruned jobs are only visible when ShowAgedDataForBrowseAndRecovery is on.
// The toggle is persisted per index and read on every call.
package aging
