package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys. Custom keys use the "indexretain.*" namespace.
const (
	AttrIndexID       = "indexretain.index_id"
	AttrCheckpointSeq = "indexretain.checkpoint_seq"
	AttrBatchID       = "indexretain.batch_id"
	AttrJobCount      = "indexretain.job_count"
	AttrPruned        = "indexretain.pruned"
	AttrFailed        = "indexretain.failed"
	AttrScope         = "indexretain.scope"
	AttrJobID         = "indexretain.job_id"
	AttrShowAgedData  = "indexretain.show_aged_data"
	AttrNoOp          = "indexretain.no_op"
)

// IndexID returns the index id attribute.
func IndexID(id string) attribute.KeyValue {
	return attribute.String(AttrIndexID, id)
}

// CheckpointSeq returns the checkpoint sequence attribute.
func CheckpointSeq(seq uint64) attribute.KeyValue {
	return attribute.Int64(AttrCheckpointSeq, int64(seq))
}

// BatchID returns the prune batch id attribute.
func BatchID(id string) attribute.KeyValue {
	return attribute.String(AttrBatchID, id)
}

// JobCount returns the job count attribute.
func JobCount(n int) attribute.KeyValue {
	return attribute.Int(AttrJobCount, n)
}

// PruneOutcome returns the pruned and failed counters of a batch.
func PruneOutcome(pruned, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrPruned, pruned),
		attribute.Int(AttrFailed, failed),
	}
}

// BrowseRequest returns the attributes of a browse or restore request.
func BrowseRequest(scope string, jobID int64, showAged bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrScope, scope),
		attribute.Int64(AttrJobID, jobID),
		attribute.Bool(AttrShowAgedData, showAged),
	}
}

// NoOp returns the attribute set on a checkpoint that changed nothing.
func NoOp(noop bool) attribute.KeyValue {
	return attribute.Bool(AttrNoOp, noop)
}
