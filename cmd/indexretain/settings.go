package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index/engine"
)

func newSettingsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change index settings",
	}
	cmd.AddCommand(newShowAgedCmd(g))
	return cmd
}

func newShowAgedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show-aged [true|false]",
		Short: "Show or set whether browse and restore return aged data",
		Long: `Without an argument, print the index's ShowAgedDataForBrowseAndRecovery
value. With one, persist the new value; it then wins over aging.show_aged_data
in the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				show   bool
				update = len(args) == 1
			)
			if update {
				v, err := strconv.ParseBool(args[0])
				if err != nil {
					return fmt.Errorf("invalid value %q: want true or false", args[0])
				}
				show = v
			}

			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				if update {
					if err := e.SetShowAgedData(ctx, show); err != nil {
						return err
					}
				}
				current, err := e.ShowAgedData(ctx)
				if err != nil {
					return err
				}
				return g.print(cmd, map[string]any{
					"index_id":       e.ID(),
					"show_aged_data": current,
				})
			})
		},
	}
}
