package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index/engine"
)

func newSubclientCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subclient",
		Short: "Manage subclients",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete SUBCLIENT",
		Short: "Delete a subclient",
		Long: `Mark a subclient deleted. Its jobs stay in the index and keep
following the retention rule the subclient carried when it was deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteSubclient(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Subclient %s deleted from index %s\n", args[0], e.ID())
				return nil
			})
		},
	})
	return cmd
}

func newBackupsetCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backupset",
		Short: "Manage backupsets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete BACKUPSET",
		Short: "Delete a backupset and every subclient in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteBackupset(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Backupset %s deleted from index %s\n", args[0], e.ID())
				return nil
			})
		},
	})
	return cmd
}
