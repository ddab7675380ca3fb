package aging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"mercator-hq/indexretain/pkg/index"
)

// Report compares storage aging with the index's own pruning state.
type Report struct {
	// AgedButIndexed are storage-aged jobs still live in the index.
	AgedButIndexed []int64 `json:"aged_but_indexed"`

	// PrunedNotAged are pruned jobs with no storage-aging notice.
	PrunedNotAged []int64 `json:"pruned_not_aged"`

	// AgedUnknown are storage-aged jobs the index never saw.
	AgedUnknown []int64 `json:"aged_unknown"`
}

// Reconcile builds a Report. It only reads.
func (c *Coordinator) Reconcile(ctx context.Context) (*Report, error) {
	aged, err := c.store.ListStorageAged(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage aging markers: %w", err)
	}
	records, err := c.store.ListPruneRecords(ctx, index.JobFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list prune records: %w", err)
	}

	report := &Report{
		AgedButIndexed: []int64{},
		PrunedNotAged:  []int64{},
		AgedUnknown:    []int64{},
	}

	pruned := index.NewJobSet()
	for _, rec := range records {
		pruned.Add(rec.JobID)
		if _, ok := aged[rec.JobID]; !ok {
			report.PrunedNotAged = append(report.PrunedNotAged, rec.JobID)
		}
	}

	for id := range aged {
		if pruned.Has(id) {
			continue
		}
		_, err := c.store.GetJob(ctx, id)
		switch {
		case err == nil:
			report.AgedButIndexed = append(report.AgedButIndexed, id)
		case errors.Is(err, index.ErrNotFound):
			report.AgedUnknown = append(report.AgedUnknown, id)
		default:
			return nil, err
		}
	}

	slices.Sort(report.AgedButIndexed)
	slices.Sort(report.PrunedNotAged)
	slices.Sort(report.AgedUnknown)
	return report, nil
}
