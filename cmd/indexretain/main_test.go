package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/indexretain/pkg/cli"
	"mercator-hq/indexretain/pkg/index"
)

const testConfig = `
storage:
  backend: sqlite
  data_dir: %DATA%
indexes:
  - id: idx
    backupsets:
      - id: bs1
        subclients:
          - id: sc1
            retention:
              type: cycles
              value: 1
telemetry:
  logging:
    level: error
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "indexretain.yaml")
	body = strings.ReplaceAll(body, "%DATA%", filepath.Join(dir, "data"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func jobIDs(t *testing.T, out string) []int64 {
	t.Helper()
	var rows []struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("output is not a JSON list: %v\n%s", err, out)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.JobID
	}
	return ids
}

func TestCommands_PruneAndBrowse(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	jobs := []struct {
		id    string
		typ   string
		start string
		file  string
	}{
		{"1", "full", "2026-01-01T00:00:00Z", "10:100:/sc1/1.tar"},
		{"2", "incremental", "2026-01-02T00:00:00Z", "20:10:/sc1/2.tar"},
		{"3", "full", "2026-01-03T00:00:00Z", "30:100:/sc1/3.tar"},
		{"4", "incremental", "2026-01-04T00:00:00Z", "40:10:/sc1/4.tar"},
		{"5", "synthetic_full", "2026-01-05T00:00:00Z", "50:100:/sc1/5.tar"},
	}
	for _, j := range jobs {
		mustExecute(t, "-c", cfg, "jobs", "append",
			"--job-id", j.id, "--type", j.typ,
			"--subclient", "sc1", "--backupset", "bs1",
			"--start", j.start, "--file", j.file)
	}

	type outcome struct {
		Warmup bool `json:"warmup"`
		Pruned int  `json:"pruned"`
	}
	checkpoint := func() outcome {
		out := mustExecute(t, "-c", cfg, "-o", "json", "checkpoint")
		var rows []outcome
		if err := json.Unmarshal([]byte(out), &rows); err != nil || len(rows) != 1 {
			t.Fatalf("checkpoint output = %q (err %v)", out, err)
		}
		return rows[0]
	}

	if got := checkpoint(); !got.Warmup || got.Pruned != 0 {
		t.Fatalf("first checkpoint = %+v, want warm-up without pruning", got)
	}
	if got := checkpoint(); got.Warmup || got.Pruned != 2 {
		t.Fatalf("second checkpoint = %+v, want 2 jobs pruned", got)
	}

	live := jobIDs(t, mustExecute(t, "-c", cfg, "-o", "json", "jobs", "list"))
	if diff := cmp.Diff([]int64{3, 4, 5}, live); diff != "" {
		t.Errorf("jobs list mismatch (-want +got):\n%s", diff)
	}
	all := jobIDs(t, mustExecute(t, "-c", cfg, "-o", "json", "jobs", "list", "--pruned"))
	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5}, all); diff != "" {
		t.Errorf("jobs list --pruned mismatch (-want +got):\n%s", diff)
	}

	browsed := jobIDs(t, mustExecute(t, "-c", cfg, "-o", "json", "browse", "--scope", "bs1"))
	if diff := cmp.Diff([]int64{3, 4, 5}, browsed); diff != "" {
		t.Errorf("browse mismatch (-want +got):\n%s", diff)
	}

	// Pruned jobs are hidden until the index shows aged data.
	_, err := execute(t, "-c", cfg, "restore", "--scope", "sc1", "--job-id", "1")
	if got := cli.ExitCode(err); got != cli.ExitNotFound {
		t.Fatalf("restore of pruned job: exit code %d (err %v), want %d", got, err, cli.ExitNotFound)
	}

	mustExecute(t, "-c", cfg, "settings", "show-aged", "true")
	mustExecute(t, "-c", cfg, "aging", "mark", "--job-id", "1")

	browsed = jobIDs(t, mustExecute(t, "-c", cfg, "-o", "json", "browse", "--scope", "sc1"))
	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5}, browsed); diff != "" {
		t.Errorf("browse with aged data mismatch (-want +got):\n%s", diff)
	}

	out := mustExecute(t, "-c", cfg, "-o", "json", "restore", "--scope", "sc1", "--job-id", "1")
	var files []index.ArchiveFile
	if err := json.Unmarshal([]byte(out), &files); err != nil {
		t.Fatalf("restore output = %q: %v", out, err)
	}
	if diff := cmp.Diff([]index.ArchiveFile{{ID: 10, Name: "/sc1/1.tar", Size: 100}}, files); diff != "" {
		t.Errorf("restore mismatch (-want +got):\n%s", diff)
	}

	out = mustExecute(t, "-c", cfg, "-o", "json", "aging", "report")
	var report struct {
		PrunedNotAged []int64 `json:"pruned_not_aged"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("aging report output = %q: %v", out, err)
	}
	if diff := cmp.Diff([]int64{2}, report.PrunedNotAged); diff != "" {
		t.Errorf("pruned_not_aged mismatch (-want +got):\n%s", diff)
	}

	out = mustExecute(t, "-c", cfg, "-o", "csv", "info")
	if !strings.HasPrefix(out, "INDEX,STATE,") || !strings.Contains(out, "\nidx,") {
		t.Errorf("info csv output = %q", out)
	}
}

func TestCommands_DeletedSubclientStaysBrowsable(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	mustExecute(t, "-c", cfg, "jobs", "append", "--job-id", "7", "--type", "full",
		"--subclient", "sc1", "--backupset", "bs1", "--start", "2026-02-01T00:00:00Z")
	mustExecute(t, "-c", cfg, "subclient", "delete", "sc1")

	out := mustExecute(t, "-c", cfg, "-o", "json", "browse", "--scope", "sc1")
	var views []index.JobView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("browse output = %q: %v", out, err)
	}
	if len(views) != 1 || views[0].VisibleReason != index.ReasonOwnerDeleted {
		t.Errorf("browse = %+v, want job 7 visible as owner-deleted", views)
	}

	_, err := execute(t, "-c", cfg, "jobs", "append", "--job-id", "8", "--type", "incremental",
		"--subclient", "sc1", "--start", "2026-02-02T00:00:00Z")
	if got := cli.ExitCode(err); got != cli.ExitInvalid {
		t.Errorf("append to deleted subclient: exit code %d (err %v), want %d", got, err, cli.ExitInvalid)
	}
}

func TestCommands_Errors(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	two := writeConfig(t, `
storage:
  backend: memory
indexes:
  - id: idx
  - id: other
`)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing config", []string{"-c", filepath.Join(t.TempDir(), "none.yaml"), "info"}, cli.ExitConfig},
		{"unknown index", []string{"-c", cfg, "-i", "nope", "info"}, cli.ExitNotFound},
		{"index required", []string{"-c", two, "browse", "--scope", "sc1"}, cli.ExitConfig},
		{"unknown scope", []string{"-c", cfg, "browse", "--scope", "nope"}, cli.ExitNotFound},
		{"bad output", []string{"-c", cfg, "-o", "xml", "info"}, cli.ExitConfig},
		{"bad type", []string{"-c", cfg, "jobs", "append", "--job-id", "1", "--type", "diff",
			"--subclient", "sc1", "--start", "2026-01-01T00:00:00Z"}, cli.ExitInvalid},
		{"duplicate job", []string{"-c", cfg, "jobs", "append", "--job-id", "1", "--type", "full",
			"--subclient", "sc1", "--start", "2026-01-01T00:00:00Z"}, cli.ExitConflict},
	}

	mustExecute(t, "-c", cfg, "jobs", "append", "--job-id", "1", "--type", "full",
		"--subclient", "sc1", "--start", "2025-12-31T00:00:00Z")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if got := cli.ExitCode(err); got != tt.want {
				t.Errorf("exit code = %d (err %v), want %d", got, err, tt.want)
			}
		})
	}
}

func TestParseArchiveFile(t *testing.T) {
	tests := []struct {
		in      string
		want    index.ArchiveFile
		wantErr bool
	}{
		{in: "10:2048:/data/a.tar", want: index.ArchiveFile{ID: 10, Name: "/data/a.tar", Size: 2048}},
		{in: "11:0:c:\\vol\\b.tar", want: index.ArchiveFile{ID: 11, Name: "c:\\vol\\b.tar", Size: 0}},
		{in: "10:2048", wantErr: true},
		{in: "x:1:a", wantErr: true},
		{in: "0:1:a", wantErr: true},
		{in: "1:-5:a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseArchiveFile(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseArchiveFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseArchiveFile() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out := mustExecute(t, "version")
	if !strings.HasPrefix(out, "indexretain "+Version+"\n") {
		t.Errorf("version output = %q", out)
	}
}
