package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/cli"
	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index/engine"
	"mercator-hq/indexretain/pkg/telemetry/logging"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	cfgFile string
	verbose bool
	indexID string
	output  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "indexretain",
		Short: "Backup index retention and pruning engine",
		Long: `indexretain keeps the backup index of a set of clients within its
retention rules.

Jobs are appended to a per-index job log. At every checkpoint the retention
rules of each subclient and backupset are evaluated and jobs that fell out of
retention are pruned from the index. Storage aging notices mark the jobs whose
data has aged out of storage, and browse and restore only return such jobs when
the index shows aged data.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.cfgFile, "config", "c", "config.yaml", "config file path")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&g.indexID, "index", "i", "", "index id (required when more than one index is configured)")
	pf.StringVarP(&g.output, "output", "o", "text", "output format (text, json, csv)")

	cmd.AddCommand(
		newRunCmd(g),
		newCheckpointCmd(g),
		newJobsCmd(g),
		newBrowseCmd(g),
		newRestoreCmd(g),
		newAgingCmd(g),
		newSettingsCmd(g),
		newSubclientCmd(g),
		newBackupsetCmd(g),
		newInfoCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

// loadConfig loads the configuration file, applies overrides, and installs
// the process logger.
func (g *globalFlags) loadConfig(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(g.cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	for _, override := range overrides {
		override(cfg)
	}
	if g.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	config.SetConfig(cfg)

	if _, err := logging.Setup(cfg.Telemetry.Logging, cmd.ErrOrStderr()); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return cfg, nil
}

// withRegistry opens every configured index for the duration of fn.
func (g *globalFlags) withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *engine.Registry) error) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	reg, err := engine.NewRegistry(ctx, cfg, engine.Options{Logger: slog.Default()})
	if err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	defer reg.Close()

	if err := fn(ctx, reg); err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	return nil
}

// withIndex runs fn against the index selected by --index.
func (g *globalFlags) withIndex(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) error {
	return g.withRegistry(cmd, func(ctx context.Context, reg *engine.Registry) error {
		e, err := g.selectIndex(reg)
		if err != nil {
			return err
		}
		return fn(ctx, e)
	})
}

// selectIndex returns the --index engine, or the only one configured.
func (g *globalFlags) selectIndex(reg *engine.Registry) (*engine.Engine, error) {
	if g.indexID != "" {
		return reg.Get(g.indexID)
	}
	ids := reg.IndexIDs()
	if len(ids) != 1 {
		return nil, cli.NewConfigError("index", fmt.Sprintf("--index is required when %d indexes are configured", len(ids)))
	}
	return reg.Get(ids[0])
}

// indexIDs returns the --index id, or every configured index.
func (g *globalFlags) indexIDs(reg *engine.Registry) []string {
	if g.indexID != "" {
		return []string{g.indexID}
	}
	return reg.IndexIDs()
}

// print writes data to stdout in the --output format.
func (g *globalFlags) print(cmd *cobra.Command, data any) error {
	formatter, err := cli.NewFormatter(g.output)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	return formatter.FormatTo(cmd.OutOrStdout(), data)
}
