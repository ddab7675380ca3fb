package main

import (
	"strconv"
	"strings"
	"time"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/index/engine"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// jobRow is one job of `jobs list`.
type jobRow struct {
	JobID       int64            `json:"job_id"`
	CycleID     int64            `json:"cycle_id"`
	Type        index.BackupType `json:"backup_type"`
	SubclientID string           `json:"subclient_id"`
	BackupsetID string           `json:"backupset_id"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Deleted     bool             `json:"deleted"`
	Files       int              `json:"archive_files"`
	PrunedAt    *time.Time       `json:"pruned_at,omitempty"`
}

func newJobRow(j *index.Job) jobRow {
	return jobRow{
		JobID:       j.JobID,
		CycleID:     j.CycleID,
		Type:        j.Type,
		SubclientID: j.SubclientID,
		BackupsetID: j.BackupsetID,
		StartTime:   j.StartTime,
		EndTime:     j.EndTime,
		Deleted:     j.Deleted,
		Files:       len(j.ArchiveFiles),
	}
}

type jobRows []jobRow

func (r jobRows) Header() []string {
	return []string{"JOB", "CYCLE", "TYPE", "SUBCLIENT", "BACKUPSET", "START", "END", "DELETED", "FILES", "PRUNED"}
}

func (r jobRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, j := range r {
		pruned := "-"
		if j.PrunedAt != nil {
			pruned = formatTime(*j.PrunedAt)
		}
		rows = append(rows, []string{
			formatID(j.JobID),
			formatID(j.CycleID),
			string(j.Type),
			j.SubclientID,
			j.BackupsetID,
			formatTime(j.StartTime),
			formatTime(j.EndTime),
			strconv.FormatBool(j.Deleted),
			strconv.Itoa(j.Files),
			pruned,
		})
	}
	return rows
}

// viewRows are the jobs returned by browse.
type viewRows []index.JobView

func (r viewRows) Header() []string {
	return []string{"JOB", "CYCLE", "TYPE", "SUBCLIENT", "BACKUPSET", "START", "END", "REASON", "AGED"}
}

func (r viewRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, v := range r {
		rows = append(rows, []string{
			formatID(v.JobID),
			formatID(v.CycleID),
			string(v.BackupType),
			v.SubclientID,
			v.BackupsetID,
			formatTime(v.StartTime),
			formatTime(v.EndTime),
			v.VisibleReason,
			strconv.FormatBool(v.StorageAged),
		})
	}
	return rows
}

// fileRows are the archive files streamed by restore.
type fileRows []index.ArchiveFile

func (r fileRows) Header() []string {
	return []string{"FILE", "NAME", "SIZE"}
}

func (r fileRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, f := range r {
		rows = append(rows, []string{formatID(f.ID), f.Name, formatID(f.Size)})
	}
	return rows
}

// checkpointRow is the outcome of one index's checkpoint.
type checkpointRow struct {
	IndexID       string `json:"index_id"`
	CheckpointSeq uint64 `json:"checkpoint_seq"`
	Warmup        bool   `json:"warmup"`
	NoOp          bool   `json:"no_op"`
	Eligible      int    `json:"eligible"`
	Pruned        int    `json:"pruned"`
	AlreadyPruned int    `json:"already_pruned"`
	Failed        int    `json:"failed"`
	Recovered     int    `json:"recovered"`
	Error         string `json:"error,omitempty"`
}

type checkpointRows []checkpointRow

func (r checkpointRows) Header() []string {
	return []string{"INDEX", "CHECKPOINT", "WARMUP", "NOOP", "ELIGIBLE", "PRUNED", "ALREADY", "FAILED", "RECOVERED", "ERROR"}
}

func (r checkpointRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, c := range r {
		errText := c.Error
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{
			c.IndexID,
			strconv.FormatUint(c.CheckpointSeq, 10),
			strconv.FormatBool(c.Warmup),
			strconv.FormatBool(c.NoOp),
			strconv.Itoa(c.Eligible),
			strconv.Itoa(c.Pruned),
			strconv.Itoa(c.AlreadyPruned),
			strconv.Itoa(c.Failed),
			strconv.Itoa(c.Recovered),
			errText,
		})
	}
	return rows
}

// infoRows are the index properties of `info`.
type infoRows []*engine.Info

func (r infoRows) Header() []string {
	return []string{"INDEX", "STATE", "LOG_SEQ", "CONFIG_VER", "LIVE", "PRUNED", "PENDING", "LAST_CHECKPOINT", "LAST_PRUNE", "SHOW_AGED"}
}

func (r infoRows) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, i := range r {
		rows = append(rows, []string{
			i.IndexID,
			i.State.String(),
			strconv.FormatUint(i.LogSequence, 10),
			strconv.FormatUint(i.ConfigVersion, 10),
			strconv.Itoa(i.LiveJobs),
			strconv.Itoa(i.PrunedJobs),
			strconv.Itoa(i.PendingIntents),
			formatTime(i.LastCheckpoint),
			formatTime(i.LastPrune),
			strconv.FormatBool(i.ShowAgedData),
		})
	}
	return rows
}

// reportRows lists each reconciliation category with its job ids.
type reportRows struct {
	*aging.Report
}

func (r reportRows) Header() []string {
	return []string{"CATEGORY", "COUNT", "JOBS"}
}

func (r reportRows) Rows() [][]string {
	row := func(name string, ids []int64) []string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = formatID(id)
		}
		return []string{name, strconv.Itoa(len(ids)), strings.Join(parts, " ")}
	}
	return [][]string{
		row("aged_but_indexed", r.AgedButIndexed),
		row("pruned_not_aged", r.PrunedNotAged),
		row("aged_unknown", r.AgedUnknown),
	}
}
