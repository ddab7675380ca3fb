// Package engine wires the components of one logical index together and
// keeps a registry of every configured index.
//
// An Engine owns the index store, its job log, retention policy, compactor,
// checkpoint manager, aging coordinator and browse resolver. Configuration
// is pushed into the store on open and on every reload; subclients and
// backupsets deleted at runtime stay deleted.
//
// Each index lives in its own database file, <data_dir>/<index id>.db.
package engine
