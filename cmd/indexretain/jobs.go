package main

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/engine"
)

func newJobsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Record and list backup jobs",
	}
	cmd.AddCommand(newJobsAppendCmd(g), newJobsListCmd(g))
	return cmd
}

type appendFlags struct {
	jobID     int64
	jobType   string
	subclient string
	backupset string
	start     string
	end       string
	files     []string
}

func newJobsAppendCmd(g *globalFlags) *cobra.Command {
	f := &appendFlags{}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a completed job to the job log",
		Long: `Append a completed backup job to the index job log.

Jobs must be appended in start time order per subclient. Archive files are
given as ID:SIZE:NAME and are what restore streams back.

Examples:
  indexretain jobs append --job-id 42 --type full --subclient sc1 --backupset bs1 \
      --start 2026-10-01T01:00:00Z --end 2026-10-01T02:00:00Z \
      --file 420:1048576:/backup/sc1/42.tar`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := f.job()
			if err != nil {
				return err
			}
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				seq, err := e.AppendJob(ctx, job)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Job %d appended to index %s (log sequence %d)\n", job.JobID, e.ID(), seq)
				return nil
			})
		},
	}

	fl := cmd.Flags()
	fl.Int64Var(&f.jobID, "job-id", 0, "job id")
	fl.StringVar(&f.jobType, "type", "", "backup type (full, incremental, synthetic_full)")
	fl.StringVar(&f.subclient, "subclient", "", "owning subclient id")
	fl.StringVar(&f.backupset, "backupset", "", "owning backupset id")
	fl.StringVar(&f.start, "start", "", "start time (RFC3339)")
	fl.StringVar(&f.end, "end", "", "end time (RFC3339, default: start time)")
	fl.StringArrayVar(&f.files, "file", nil, "archive file as ID:SIZE:NAME (repeatable)")
	for _, name := range []string{"job-id", "type", "subclient", "start"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// job builds the job described by the flags.
func (f *appendFlags) job() (*index.Job, error) {
	typ, err := index.ParseBackupType(f.jobType)
	if err != nil {
		return nil, index.NewInvalidJobError(f.jobID, err.Error())
	}
	start, err := time.Parse(time.RFC3339, f.start)
	if err != nil {
		return nil, index.NewInvalidJobError(f.jobID, fmt.Sprintf("invalid start time: %v", err))
	}
	end := start
	if f.end != "" {
		if end, err = time.Parse(time.RFC3339, f.end); err != nil {
			return nil, index.NewInvalidJobError(f.jobID, fmt.Sprintf("invalid end time: %v", err))
		}
	}

	job := &index.Job{
		JobID:       f.jobID,
		Type:        typ,
		StartTime:   start,
		EndTime:     end,
		SubclientID: f.subclient,
		BackupsetID: f.backupset,
	}
	for _, s := range f.files {
		file, err := parseArchiveFile(s)
		if err != nil {
			return nil, index.NewInvalidJobError(f.jobID, err.Error())
		}
		job.ArchiveFiles = append(job.ArchiveFiles, file)
	}
	return job, job.Validate()
}

// parseArchiveFile parses ID:SIZE:NAME. The name may itself contain colons.
func parseArchiveFile(s string) (index.ArchiveFile, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return index.ArchiveFile{}, fmt.Errorf("invalid archive file %q: want ID:SIZE:NAME", s)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return index.ArchiveFile{}, fmt.Errorf("invalid archive file id %q", parts[0])
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return index.ArchiveFile{}, fmt.Errorf("invalid archive file size %q", parts[1])
	}
	return index.ArchiveFile{ID: id, Name: parts[2], Size: size}, nil
}

func newJobsListCmd(g *globalFlags) *cobra.Command {
	var (
		filter index.JobFilter
		pruned bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs of the index",
		Long: `List live jobs, oldest first. With --pruned the jobs removed by
checkpoints are listed too, with their prune time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withIndex(cmd, func(ctx context.Context, e *engine.Engine) error {
				rows, err := listJobs(ctx, e, filter, pruned)
				if err != nil {
					return err
				}
				return g.print(cmd, rows)
			})
		},
	}

	cmd.Flags().StringVar(&filter.SubclientID, "subclient", "", "only jobs of this subclient")
	cmd.Flags().StringVar(&filter.BackupsetID, "backupset", "", "only jobs of this backupset")
	cmd.Flags().BoolVar(&pruned, "pruned", false, "include pruned jobs")
	return cmd
}

func listJobs(ctx context.Context, e *engine.Engine, filter index.JobFilter, pruned bool) (jobRows, error) {
	jobs, err := e.Jobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	rows := make(jobRows, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, newJobRow(j))
	}

	if pruned {
		records, err := e.Store().ListPruneRecords(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			row := newJobRow(&rec.Snapshot)
			at := rec.PrunedAt
			row.PrunedAt = &at
			rows = append(rows, row)
		}
	}

	slices.SortFunc(rows, func(a, b jobRow) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})
	return rows, nil
}
