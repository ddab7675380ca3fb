package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index/checkpoint"
	"mercator-hq/indexretain/pkg/index/engine"
)

func newCheckpointCmd(g *globalFlags) *cobra.Command {
	var retry bool

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Run a checkpoint now",
		Long: `Evaluate retention and prune the jobs that fell out of it.

Without --index every configured index is checkpointed in turn. The first
checkpoint of an index only records a baseline and prunes nothing.

Examples:
  # Checkpoint one index
  indexretain checkpoint --index idx

  # Retry with backoff when another process holds the checkpoint lease
  indexretain checkpoint --retry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRegistry(cmd, func(ctx context.Context, reg *engine.Registry) error {
				rows, err := runCheckpoints(ctx, reg, g.indexIDs(reg), retry)
				if perr := g.print(cmd, rows); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&retry, "retry", false, "retry failed checkpoints with the configured backoff")
	return cmd
}

// runCheckpoints checkpoints each index and reports every outcome. Failures
// do not stop the remaining indexes.
func runCheckpoints(ctx context.Context, reg *engine.Registry, ids []string, retry bool) (checkpointRows, error) {
	var (
		rows checkpointRows
		errs []error
	)
	for _, id := range ids {
		row := checkpointRow{IndexID: id}

		var (
			result *checkpoint.Result
			err    error
		)
		if retry {
			var e *engine.Engine
			if e, err = reg.Get(id); err == nil {
				result, err = e.RunCheckpointWithRetry(ctx)
			}
		} else {
			result, err = reg.RunCheckpoint(ctx, id)
		}

		if result != nil {
			row.CheckpointSeq = result.CheckpointSeq
			row.Warmup = result.Warmup
			row.NoOp = result.NoOp
			row.Eligible = result.Eligible
			row.Pruned = result.Pruned
			row.AlreadyPruned = result.AlreadyPruned
			row.Failed = result.Failed
			row.Recovered = result.Recovered
		}
		if err != nil {
			row.Error = err.Error()
			errs = append(errs, fmt.Errorf("index %s: %w", id, err))
		}
		rows = append(rows, row)
	}
	return rows, errors.Join(errs...)
}
