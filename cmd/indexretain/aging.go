package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/index/engine"
)

func newAgingCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aging",
		Short: "Apply and inspect storage aging notices",
	}
	cmd.AddCommand(newAgingMarkCmd(g), newAgingReportCmd(g))
	return cmd
}

func newAgingMarkCmd(g *globalFlags) *cobra.Command {
	var (
		jobID int64
		at    string
	)

	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Record that a job's data aged out of storage",
		Long: `Record a storage aging notice for a job, as the spool watcher of
"indexretain run" does for each notice file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := aging.Event{JobID: jobID}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at time: %w", err)
				}
				ev.AgedAt = t
			}
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.OnStorageAged(ctx, ev); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %d marked storage-aged in index %s\n", jobID, e.ID())
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&jobID, "job-id", 0, "aged job id")
	cmd.Flags().StringVar(&at, "at", "", "aging time (RFC3339, default: now)")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func newAgingReportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Compare storage aging notices with index pruning",
		Long: `Report storage-aged jobs the index still holds, pruned jobs without
an aging notice, and aging notices for jobs the index never saw.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				report, err := e.Reconcile(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd, reportRows{report})
			})
		},
	}
}
