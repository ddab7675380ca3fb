package aging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/storage"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// newStore returns a store holding live jobs 1 and 2, job 3 whose subclient
// was deleted, and pruned job 4.
func newStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	for _, j := range []*index.Job{
		{JobID: 1, Type: index.BackupFull, StartTime: t0, EndTime: t0.Add(time.Hour), SubclientID: "sc1", BackupsetID: "bs1"},
		{JobID: 2, Type: index.BackupIncremental, StartTime: t0.Add(2 * time.Hour), EndTime: t0.Add(3 * time.Hour), SubclientID: "sc1", BackupsetID: "bs1"},
		{JobID: 3, Type: index.BackupFull, StartTime: t0, EndTime: t0.Add(time.Hour), SubclientID: "sc2", BackupsetID: "bs1"},
		{JobID: 4, Type: index.BackupFull, StartTime: t0.Add(-72 * time.Hour), EndTime: t0.Add(-71 * time.Hour), SubclientID: "sc1", BackupsetID: "bs1"},
	} {
		if _, err := store.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob(%d) failed: %v", j.JobID, err)
		}
	}
	for _, sc := range []*index.Subclient{{ID: "sc1", BackupsetID: "bs1"}, {ID: "sc2", BackupsetID: "bs1"}} {
		if _, err := store.UpsertSubclient(ctx, sc); err != nil {
			t.Fatalf("UpsertSubclient(%s) failed: %v", sc.ID, err)
		}
	}
	if _, err := store.MarkSubclientDeleted(ctx, "sc2", t0); err != nil {
		t.Fatalf("MarkSubclientDeleted failed: %v", err)
	}

	snap, err := store.GetJob(ctx, 4)
	if err != nil {
		t.Fatalf("GetJob(4) failed: %v", err)
	}
	if _, err := store.RemoveJob(ctx, 4, &index.PruneRecord{JobID: 4, PrunedAt: t0, CheckpointSeq: 2, Snapshot: *snap}); err != nil {
		t.Fatalf("RemoveJob(4) failed: %v", err)
	}
	return store
}

func newCoordinator(store index.Store, m *metrics.Collector) *Coordinator {
	return New(store, Options{IndexID: "idx", Now: func() time.Time { return t0 }, Metrics: m})
}

func TestCoordinator_OnStorageAged(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	registry := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "aging"}, registry)
	c := newCoordinator(store, m)

	// Repeated, out of order, for live, pruned and unknown jobs.
	events := []Event{
		{JobID: 4, AgedAt: t0.Add(2 * time.Hour)},
		{JobID: 4, AgedAt: t0.Add(time.Hour)},
		{JobID: 1, AgedAt: t0},
		{JobID: 99, AgedAt: t0},
		{JobID: 1, AgedAt: t0},
	}
	for _, ev := range events {
		if err := c.OnStorageAged(ctx, ev); err != nil {
			t.Fatalf("OnStorageAged(%+v) failed: %v", ev, err)
		}
	}

	got, err := store.ListStorageAged(ctx)
	if err != nil {
		t.Fatalf("ListStorageAged failed: %v", err)
	}
	want := map[int64]time.Time{
		1:  t0,
		4:  t0.Add(time.Hour),
		99: t0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}

	// Aging never touches the log.
	if _, err := store.GetJob(ctx, 1); err != nil {
		t.Errorf("job 1 should still be live: %v", err)
	}
	if _, err := store.GetJob(ctx, 4); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("job 4 should stay pruned, got %v", err)
	}

	want2 := `
# HELP test_aging_aging_events_total Total number of storage aging events
# TYPE test_aging_aging_events_total counter
test_aging_aging_events_total{index_id="idx",status="applied"} 4
test_aging_aging_events_total{index_id="idx",status="unknown_job"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(want2), "test_aging_aging_events_total"); err != nil {
		t.Errorf("aging metrics mismatch: %v", err)
	}
}

func TestCoordinator_OnStorageAged_Invalid(t *testing.T) {
	c := newCoordinator(newStore(t), nil)

	err := c.OnStorageAged(context.Background(), Event{JobID: 0})
	var invalid *index.InvalidJobError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidJobError, got %v", err)
	}
}

func TestCoordinator_OnStorageAged_DefaultsTime(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := newCoordinator(store, nil)

	if err := c.OnStorageAged(ctx, Event{JobID: 2}); err != nil {
		t.Fatalf("OnStorageAged failed: %v", err)
	}
	at, ok, err := c.StorageAged(ctx, 2)
	if err != nil || !ok {
		t.Fatalf("StorageAged = %v, %v, %v", at, ok, err)
	}
	if !at.Equal(t0) {
		t.Errorf("aged at = %v, want %v", at, t0)
	}
}

func TestCoordinator_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newStore(t)
	c := newCoordinator(store, nil)

	events := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, events) }()

	events <- Event{JobID: 1, AgedAt: t0}
	events <- Event{JobID: -5}
	events <- Event{JobID: 2, AgedAt: t0}
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	got, _ := store.ListStorageAged(ctx)
	if len(got) != 2 {
		t.Errorf("expected 2 markers, got %v", got)
	}
}

func TestCoordinator_Run_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newCoordinator(newStore(t), nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan Event)) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCoordinator_IsVisible(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(newStore(t), nil)

	tests := []struct {
		name        string
		jobID       int64
		showAged    bool
		wantVisible bool
		wantReason  string
	}{
		{"live", 1, false, true, index.ReasonLive},
		{"live with toggle", 1, true, true, index.ReasonLive},
		{"owner deleted", 3, false, true, index.ReasonOwnerDeleted},
		{"pruned hidden", 4, false, false, ""},
		{"pruned shown", 4, true, true, index.ReasonAgedOverride},
		{"unknown", 99, true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			visible, reason, err := c.IsVisible(ctx, tt.jobID, tt.showAged)
			if err != nil {
				t.Fatalf("IsVisible failed: %v", err)
			}
			if visible != tt.wantVisible || reason != tt.wantReason {
				t.Errorf("IsVisible(%d, %v) = %v, %q; want %v, %q",
					tt.jobID, tt.showAged, visible, reason, tt.wantVisible, tt.wantReason)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	s := NewSettings(store, false, nil)
	if show, err := s.ShowAgedData(ctx); err != nil || show {
		t.Fatalf("default ShowAgedData = %v, %v; want false", show, err)
	}
	s.SetDefault(true)
	if show, _ := s.ShowAgedData(ctx); !show {
		t.Error("new default should apply while nothing is persisted")
	}
	s.SetDefault(false)

	if err := s.SetShowAgedData(ctx, true); err != nil {
		t.Fatalf("SetShowAgedData failed: %v", err)
	}
	if show, _ := s.ShowAgedData(ctx); !show {
		t.Error("toggle should take effect immediately")
	}

	// Persisted value wins over a new default.
	again := NewSettings(store, false, nil)
	if show, _ := again.ShowAgedData(ctx); !show {
		t.Error("persisted toggle should survive a new Settings")
	}

	raw, ok, _ := store.GetSetting(ctx, index.ShowAgedDataSetting)
	if !ok || raw != "true" {
		t.Errorf("stored setting = %q, %v", raw, ok)
	}
}

func TestSettings_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	if err := store.PutSetting(ctx, index.ShowAgedDataSetting, "maybe"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSettings(store, true, nil).ShowAgedData(ctx); err == nil {
		t.Error("expected error for unparsable setting")
	}
}

func TestCoordinator_Reconcile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	c := newCoordinator(store, nil)

	for _, id := range []int64{2, 77} {
		if err := c.OnStorageAged(ctx, Event{JobID: id, AgedAt: t0}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	want := &Report{
		AgedButIndexed: []int64{2},
		PrunedNotAged:  []int64{4},
		AgedUnknown:    []int64{77},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	// Once job 4 is aged it no longer shows up.
	if err := c.OnStorageAged(ctx, Event{JobID: 4, AgedAt: t0}); err != nil {
		t.Fatal(err)
	}
	report, _ = c.Reconcile(ctx)
	if len(report.PrunedNotAged) != 0 {
		t.Errorf("PrunedNotAged = %v, want empty", report.PrunedNotAged)
	}
}

func TestParseNotice(t *testing.T) {
	ev, err := ParseNotice([]byte(`{"job_id": 12, "aged_at": "2024-06-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("ParseNotice failed: %v", err)
	}
	if diff := cmp.Diff(Event{JobID: 12, AgedAt: t0}, ev); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{`{`, `{"job_id": 0}`, `{"job_id": "x"}`} {
		if _, err := ParseNotice([]byte(bad)); err == nil {
			t.Errorf("ParseNotice(%s) should fail", bad)
		}
	}
}

func TestSpoolWatcher(t *testing.T) {
	dir := t.TempDir()
	writeNotice := func(name, body string) {
		t.Helper()
		tmp := filepath.Join(dir, "."+name+".tmp")
		if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	// Present before the watcher starts.
	writeNotice("a.json", `{"job_id": 1, "aged_at": "2024-06-01T00:00:00Z"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- NewSpoolWatcher(dir, nil).Run(ctx, events) }()

	next := func() Event {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for spool event")
			return Event{}
		}
	}

	if ev := next(); ev.JobID != 1 {
		t.Errorf("first event job = %d, want 1", ev.JobID)
	}

	writeNotice("b.json", `{"job_id": 2, "aged_at": "2024-06-01T00:00:00Z"}`)
	if ev := next(); ev.JobID != 2 {
		t.Errorf("second event job = %d, want 2", ev.JobID)
	}

	// Delivered files are removed.
	deadline := time.Now().Add(5 * time.Second)
	for {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
		if len(matches) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("spool files not removed: %v", matches)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
