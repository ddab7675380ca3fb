package main

import (
	"context"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index/engine"
)

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show index properties",
		Long: `Show the log sequence, job counts, pending prune batches and the
last checkpoint, compaction and prune times of each index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withRegistry(cmd, func(ctx context.Context, reg *engine.Registry) error {
				var rows infoRows
				for _, id := range g.indexIDs(reg) {
					e, err := reg.Get(id)
					if err != nil {
						return err
					}
					info, err := e.Info(ctx)
					if err != nil {
						return err
					}
					rows = append(rows, info)
				}
				return g.print(cmd, rows)
			})
		},
	}
}
