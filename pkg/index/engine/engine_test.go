package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/telemetry/health"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(rule index.RetentionRule) *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Retention.Default = rule
	cfg.Indexes = []config.IndexConfig{{
		ID: "idx",
		Backupsets: []config.BackupsetConfig{{
			ID:         "bs1",
			Subclients: []config.SubclientConfig{{ID: "sc1"}, {ID: "sc2"}},
		}},
	}}
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, clk *clock) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, cfg.Indexes[0], Options{Now: clk.Now})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// appendJobs appends jobs to sc1 with the given types, one every two hours
// ending at t0-3h.
func appendJobs(t *testing.T, e *Engine, types ...index.BackupType) {
	t.Helper()
	start := t0.Add(-time.Duration(2*len(types)+2) * time.Hour)
	for i, typ := range types {
		s := start.Add(time.Duration(2*i) * time.Hour)
		j := &index.Job{
			JobID: int64(i + 1), Type: typ, StartTime: s, EndTime: s.Add(time.Hour),
			SubclientID: "sc1", BackupsetID: "bs1",
			ArchiveFiles: []index.ArchiveFile{{ID: int64(100 + i), Name: "data", Size: 10}},
		}
		if _, err := e.AppendJob(context.Background(), j); err != nil {
			t.Fatalf("AppendJob(%d) failed: %v", j.JobID, err)
		}
	}
}

func liveIDs(t *testing.T, e *Engine) []int64 {
	t.Helper()
	jobs, err := e.Jobs(context.Background(), index.JobFilter{})
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	ids := []int64{}
	for _, j := range jobs {
		ids = append(ids, j.JobID)
	}
	return ids
}

func doCheckpoint(t *testing.T, e *Engine) {
	t.Helper()
	if _, err := e.RunCheckpoint(context.Background()); err != nil {
		t.Fatalf("RunCheckpoint failed: %v", err)
	}
}

var days2 = index.RetentionRule{Type: index.RuleDays, Value: 2}

// A job pruned by a days rule stays hidden until aged data is shown.
func TestEngine_AgedDataOverride(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: t0}
	e := newEngine(t, testConfig(days2), clk)
	appendJobs(t, e, index.BackupFull, index.BackupIncremental, index.BackupFull, index.BackupIncremental)

	doCheckpoint(t, e)
	clk.Advance(48*time.Hour + time.Minute)
	doCheckpoint(t, e)

	if diff := cmp.Diff([]int64{3}, liveIDs(t, e)); diff != "" {
		t.Fatalf("live jobs mismatch (-want +got):\n%s", diff)
	}

	views, err := e.Browse(ctx, "sc1", 2)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("pruned job visible without override: %+v", views)
	}

	if err := e.SetShowAgedData(ctx, true); err != nil {
		t.Fatalf("SetShowAgedData failed: %v", err)
	}
	views, err = e.Browse(ctx, "sc1", 2)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 1 || views[0].JobID != 2 || views[0].VisibleReason != index.ReasonAgedOverride {
		t.Fatalf("expected one aged-override view of job 2, got %+v", views)
	}

	// Toggling visibility never touches the log.
	if diff := cmp.Diff([]int64{3}, liveIDs(t, e)); diff != "" {
		t.Errorf("live jobs changed (-want +got):\n%s", diff)
	}

	files, errc, err := e.Restore(ctx, "sc1", 2)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	var got []int64
	for f := range files {
		got = append(got, f.ID)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{101}, got); diff != "" {
		t.Errorf("restored files mismatch (-want +got):\n%s", diff)
	}
}

// Deleting a subclient neither removes its jobs nor changes when they are
// pruned.
func TestEngine_DeletedSubclientFollowsRetention(t *testing.T) {
	ctx := context.Background()
	types := []index.BackupType{index.BackupFull, index.BackupIncremental, index.BackupFull, index.BackupIncremental}

	clkA, clkB := &clock{now: t0}, &clock{now: t0}
	deleted := newEngine(t, testConfig(days2), clkA)
	control := newEngine(t, testConfig(days2), clkB)
	appendJobs(t, deleted, types...)
	appendJobs(t, control, types...)

	doCheckpoint(t, deleted)
	doCheckpoint(t, control)

	if err := deleted.DeleteSubclient(ctx, "sc1"); err != nil {
		t.Fatalf("DeleteSubclient failed: %v", err)
	}

	// Not yet eligible: nothing pruned, still browsable at the backupset.
	doCheckpoint(t, deleted)
	if diff := cmp.Diff([]int64{1, 2, 3, 4}, liveIDs(t, deleted)); diff != "" {
		t.Fatalf("live jobs mismatch (-want +got):\n%s", diff)
	}
	views, err := deleted.Browse(ctx, "bs1", 2)
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 1 || views[0].VisibleReason != index.ReasonOwnerDeleted {
		t.Fatalf("expected job 2 visible as owner-deleted, got %+v", views)
	}

	// Appends to a deleted subclient are refused.
	s := t0.Add(time.Hour)
	_, err = deleted.AppendJob(ctx, &index.Job{JobID: 50, Type: index.BackupFull, StartTime: s, EndTime: s, SubclientID: "sc1"})
	var scDeleted *index.SubclientDeletedError
	if !errors.As(err, &scDeleted) {
		t.Errorf("expected SubclientDeletedError, got %v", err)
	}

	clkA.Advance(48*time.Hour + time.Minute)
	clkB.Advance(48*time.Hour + time.Minute)
	doCheckpoint(t, deleted)
	doCheckpoint(t, control)

	if diff := cmp.Diff(liveIDs(t, control), liveIDs(t, deleted)); diff != "" {
		t.Errorf("deleted subclient pruned differently (-control +deleted):\n%s", diff)
	}
}

func TestEngine_ApplyKeepsDeletion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(index.RetentionRule{Type: index.RuleCycles, Value: 2})
	e := newEngine(t, cfg, &clock{now: t0})

	if err := e.DeleteSubclient(ctx, "sc2"); err != nil {
		t.Fatalf("DeleteSubclient failed: %v", err)
	}
	before, err := e.Store().GetSubclient(ctx, "sc2")
	if err != nil {
		t.Fatal(err)
	}

	cfg.Indexes[0].Backupsets[0].Subclients[1].Retention = &index.RetentionRule{Type: index.RuleDays, Value: 9}
	if err := e.Apply(ctx, cfg, cfg.Indexes[0]); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	sc, err := e.Store().GetSubclient(ctx, "sc2")
	if err != nil {
		t.Fatal(err)
	}
	if !sc.Deleted {
		t.Error("reload undeleted the subclient")
	}
	if diff := cmp.Diff(before.Retention, sc.Retention); diff != "" {
		t.Errorf("reload replaced the deleted subclient's rule (-want +got):\n%s", diff)
	}

	// A live subclient takes the reloaded rule.
	rule := &index.RetentionRule{Type: index.RuleDays, Value: 4}
	cfg.Indexes[0].Backupsets[0].Subclients[0].Retention = rule
	if err := e.Apply(ctx, cfg, cfg.Indexes[0]); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	sc, err = e.Store().GetSubclient(ctx, "sc1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rule, sc.Retention); diff != "" {
		t.Errorf("rule mismatch (-want +got):\n%s", diff)
	}

	if err := e.Apply(ctx, cfg, config.IndexConfig{ID: "other"}); err == nil {
		t.Error("expected error applying another index's config")
	}
}

func TestEngine_DefaultRuleChangeInvalidatesNoOp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(index.RetentionRule{Type: index.RuleCycles, Value: 2})
	e := newEngine(t, cfg, &clock{now: t0})
	appendJobs(t, e, index.BackupFull, index.BackupFull, index.BackupFull, index.BackupFull)

	doCheckpoint(t, e) // warm-up
	doCheckpoint(t, e) // prunes job 1
	doCheckpoint(t, e) // log changed, nothing eligible

	res, err := e.RunCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NoOp {
		t.Fatalf("expected no-op, got %+v", res)
	}
	if diff := cmp.Diff([]int64{2, 3, 4}, liveIDs(t, e)); diff != "" {
		t.Fatalf("live jobs mismatch (-want +got):\n%s", diff)
	}

	cfg.Retention.Default = index.RetentionRule{Type: index.RuleCycles, Value: 1}
	if err := e.Apply(ctx, cfg, cfg.Indexes[0]); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	res, err = e.RunCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.NoOp || res.Pruned != 1 {
		t.Errorf("expected job 2 pruned after rule change, got %+v", res)
	}
}

func TestEngine_ShowAgedDataDefault(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(days2)
	cfg.Aging.ShowAgedData = true
	e := newEngine(t, cfg, &clock{now: t0})

	if show, _ := e.ShowAgedData(ctx); !show {
		t.Error("configured default not applied")
	}
	if err := e.SetShowAgedData(ctx, false); err != nil {
		t.Fatal(err)
	}

	// A persisted value wins over the configured default.
	if err := e.Apply(ctx, cfg, cfg.Indexes[0]); err != nil {
		t.Fatal(err)
	}
	if show, _ := e.ShowAgedData(ctx); show {
		t.Error("persisted toggle overridden by reload")
	}
}

func TestEngine_AgingAndInfo(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: t0}
	e := newEngine(t, testConfig(days2), clk)
	appendJobs(t, e, index.BackupFull, index.BackupIncremental)

	events := make(chan aging.Event, 2)
	events <- aging.Event{JobID: 1, AgedAt: t0}
	events <- aging.Event{JobID: 1, AgedAt: t0}
	close(events)
	if err := e.RunAging(ctx, events); err != nil {
		t.Fatal(err)
	}

	report, err := e.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{1}, report.AgedButIndexed); diff != "" {
		t.Errorf("AgedButIndexed mismatch (-want +got):\n%s", diff)
	}

	doCheckpoint(t, e)
	info, err := e.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.IndexID != "idx" || info.LiveJobs != 2 || info.PrunedJobs != 0 || info.LastCheckpointSeq != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if !info.LastCheckpoint.Equal(t0) {
		t.Errorf("LastCheckpoint = %v, want %v", info.LastCheckpoint, t0)
	}

	details, err := e.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if details["pending_intents"] != 0 {
		t.Errorf("pending_intents = %v, want 0", details["pending_intents"])
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(days2)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Checkpoint.LockDir = cfg.Storage.DataDir

	reg, err := NewRegistry(ctx, cfg, Options{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	defer reg.Close()

	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "idx.db")); err != nil {
		t.Errorf("index database not created: %v", err)
	}
	if diff := cmp.Diff([]string{"idx"}, reg.IndexIDs()); diff != "" {
		t.Errorf("index ids mismatch (-want +got):\n%s", diff)
	}

	e, err := reg.Get("idx")
	if err != nil {
		t.Fatal(err)
	}
	appendJobs(t, e, index.BackupFull)

	res, err := reg.RunCheckpoint(ctx, "idx")
	if err != nil {
		t.Fatalf("RunCheckpoint failed: %v", err)
	}
	if !res.Warmup {
		t.Errorf("first checkpoint should be a warm-up: %+v", res)
	}

	if _, err := reg.RunCheckpoint(ctx, "missing"); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown index, got %v", err)
	}

	checker := health.New(time.Second)
	reg.RegisterHealth(checker)
	status := checker.CheckReadiness(ctx)
	if status.Status != "ready" {
		t.Errorf("readiness = %+v", status)
	}
	if status.Checks["index:idx"].Details["pending_intents"] != 0 {
		t.Errorf("details = %v", status.Checks["index:idx"].Details)
	}

	cfg.Indexes = append(cfg.Indexes, config.IndexConfig{ID: "second"})
	if err := reg.Apply(ctx, cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if diff := cmp.Diff([]string{"idx", "second"}, reg.IndexIDs()); diff != "" {
		t.Errorf("index ids mismatch (-want +got):\n%s", diff)
	}
}
