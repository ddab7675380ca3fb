// Package archive saves the metadata of jobs about to be pruned.
//
// Pruning is irreversible, so the compactor can hand every batch to an
// Archiver first. A batch is written as one JSON document, either to a local
// directory (FileArchiver) or to an S3-compatible bucket (S3Archiver). A
// failed archive aborts the batch before anything is removed.
package archive
