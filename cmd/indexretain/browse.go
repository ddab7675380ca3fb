package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/cli"
	"mercator-hq/indexretain/pkg/index/engine"
)

type browseFlags struct {
	scope string
	jobID int64
}

func (f *browseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scope, "scope", "", "subclient or backupset id")
	cmd.Flags().Int64Var(&f.jobID, "job-id", 0, "a single job instead of the whole scope")
	_ = cmd.MarkFlagRequired("scope")
}

func newBrowseCmd(g *globalFlags) *cobra.Command {
	f := &browseFlags{}

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List the browsable jobs of a subclient or backupset",
		Long: `List the jobs a browse request returns for a scope.

Jobs pruned from the index are only listed when the index shows aged data
(see "indexretain settings show-aged"). Jobs of deleted subclients stay
browsable until retention prunes them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				views, err := e.Browse(ctx, f.scope, f.jobID)
				if err != nil {
					return err
				}
				return g.print(cmd, viewRows(views))
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newRestoreCmd(g *globalFlags) *cobra.Command {
	f := &browseFlags{}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Stream the archive files of a subclient, backupset or job",
		Long: `Resolve a restore request and list the archive files it streams.

Restore sees exactly what browse sees and fails when that is nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				files, err := restoreFiles(ctx, e, f.scope, f.jobID, cli.NewProgressReporter(cmd.ErrOrStderr(), "files"))
				if err != nil {
					return err
				}
				return g.print(cmd, files)
			})
		},
	}
	f.register(cmd)
	return cmd
}

// restoreFiles drains a restore stream.
func restoreFiles(ctx context.Context, e *engine.Engine, scope string, jobID int64, progress cli.ProgressReporter) (fileRows, error) {
	stream, errc, err := e.Restore(ctx, scope, jobID)
	if err != nil {
		return nil, err
	}

	progress.Start(0)
	var files fileRows
	for file := range stream {
		files = append(files, file)
		progress.Update(int64(len(files)))
	}
	if err := <-errc; err != nil {
		progress.Error(err)
		return files, fmt.Errorf("restore interrupted after %d files: %w", len(files), err)
	}
	progress.Finish()
	return files, nil
}
