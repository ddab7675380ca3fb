package browse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/index/joblog"
	"mercator-hq/indexretain/pkg/index/storage"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryStore
	log      *joblog.JobLog
	resolver *Resolver
}

// newFixture builds an index with two subclients of backupset bs1:
//
//	sc1: F1 I2 F3 I4   (job 1 pruned)
//	sc2: F5 I6
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	log := joblog.New(store, joblog.Options{IndexID: "idx"})

	add := func(id int64, typ index.BackupType, sc string, hours int) {
		start := t0.Add(time.Duration(hours) * time.Hour)
		j := &index.Job{
			JobID: id, Type: typ, StartTime: start, EndTime: start.Add(time.Hour),
			SubclientID: sc, BackupsetID: "bs1",
			ArchiveFiles: []index.ArchiveFile{{ID: id * 10, Name: "chunk", Size: 100}},
		}
		if _, err := log.Append(ctx, j); err != nil {
			t.Fatalf("Append(%d) failed: %v", id, err)
		}
	}
	add(1, index.BackupFull, "sc1", 0)
	add(2, index.BackupIncremental, "sc1", 2)
	add(3, index.BackupSyntheticFull, "sc1", 4)
	add(4, index.BackupIncremental, "sc1", 6)
	add(5, index.BackupFull, "sc2", 1)
	add(6, index.BackupIncremental, "sc2", 3)

	snap, err := log.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.Remove(ctx, 1, &index.PruneRecord{JobID: 1, PrunedAt: t0.Add(48 * time.Hour), CheckpointSeq: 2, Snapshot: *snap}); err != nil {
		t.Fatalf("Remove(1) failed: %v", err)
	}

	coord := aging.New(store, aging.Options{IndexID: "idx"})
	return &fixture{
		store:    store,
		log:      log,
		resolver: New(store, log, coord, Options{IndexID: "idx"}),
	}
}

func ids(views []index.JobView) []int64 {
	out := make([]int64, len(views))
	for i, v := range views {
		out[i] = v.JobID
	}
	return out
}

func TestResolver_Browse_Scope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want []int64
	}{
		{"subclient", Request{Scope: "sc1"}, []int64{2, 3, 4}},
		{"subclient with aged", Request{Scope: "sc1", ShowAgedData: true}, []int64{1, 2, 3, 4}},
		{"backupset", Request{Scope: "bs1"}, []int64{5, 2, 6, 3, 4}},
		{"backupset with aged", Request{Scope: "bs1", ShowAgedData: true}, []int64{1, 5, 2, 6, 3, 4}},
		{"single job", Request{Scope: "sc1", JobID: 3}, []int64{3}},
		{"job outside scope", Request{Scope: "sc2", JobID: 3}, []int64{}},
		{"unknown job", Request{Scope: "sc1", JobID: 99}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := f.resolver.Browse(ctx, tt.req)
			if err != nil {
				t.Fatalf("Browse failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(views)); diff != "" {
				t.Errorf("jobs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolver_Browse_View(t *testing.T) {
	f := newFixture(t)

	views, err := f.resolver.Browse(context.Background(), Request{Scope: "sc1", JobID: 4})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	want := []index.JobView{{
		JobID:         4,
		CycleID:       3,
		BackupType:    index.BackupIncremental,
		SubclientID:   "sc1",
		BackupsetID:   "bs1",
		StartTime:     t0.Add(6 * time.Hour),
		EndTime:       t0.Add(7 * time.Hour),
		VisibleReason: index.ReasonLive,
	}}
	if diff := cmp.Diff(want, views); diff != "" {
		t.Errorf("view mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_Browse_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Browse(ctx, Request{Scope: "nope"})
	var unknown *index.UnknownScopeError
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownScopeError, got %v", err)
	}

	_, err = f.resolver.Browse(ctx, Request{Scope: ""})
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownScopeError for empty scope, got %v", err)
	}

	_, err = f.resolver.Browse(ctx, Request{Scope: "sc1", JobID: -1})
	var invalid *index.InvalidJobError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidJobError, got %v", err)
	}
}

// A pruned job is hidden until aged data is requested, and browsing never
// changes the log.
func TestResolver_Browse_AgedGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seqBefore, _ := f.log.Sequence(ctx)
	jobsBefore, _ := f.log.Jobs(ctx, index.JobFilter{})

	views, err := f.resolver.Browse(ctx, Request{Scope: "sc1", JobID: 1})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("pruned job should be hidden, got %v", views)
	}

	views, err = f.resolver.Browse(ctx, Request{Scope: "sc1", JobID: 1, ShowAgedData: true})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected exactly one view, got %v", views)
	}
	if views[0].VisibleReason != index.ReasonAgedOverride {
		t.Errorf("reason = %q, want %q", views[0].VisibleReason, index.ReasonAgedOverride)
	}

	seqAfter, _ := f.log.Sequence(ctx)
	jobsAfter, _ := f.log.Jobs(ctx, index.JobFilter{})
	if seqBefore != seqAfter {
		t.Errorf("log sequence changed: %d -> %d", seqBefore, seqAfter)
	}
	if diff := cmp.Diff(jobsBefore, jobsAfter); diff != "" {
		t.Errorf("log contents changed (-before +after):\n%s", diff)
	}
}

func TestResolver_Browse_DeletedOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.log.DeleteSubclient(ctx, "sc2"); err != nil {
		t.Fatalf("DeleteSubclient failed: %v", err)
	}

	views, err := f.resolver.Browse(ctx, Request{Scope: "bs1", JobID: 6})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if len(views) != 1 || views[0].VisibleReason != index.ReasonOwnerDeleted {
		t.Fatalf("expected job 6 visible as owner-deleted, got %+v", views)
	}

	// The deleted subclient is still a valid scope.
	views, err = f.resolver.Browse(ctx, Request{Scope: "sc2"})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if diff := cmp.Diff([]int64{5, 6}, ids(views)); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_Browse_StorageAgedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.SetStorageAged(ctx, 2, t0); err != nil {
		t.Fatal(err)
	}
	views, err := f.resolver.Browse(ctx, Request{Scope: "sc1"})
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	for _, v := range views {
		if want := v.JobID == 2; v.StorageAged != want {
			t.Errorf("job %d StorageAged = %v, want %v", v.JobID, v.StorageAged, want)
		}
	}
}

// singleMarkerStore fails any scan of every aging marker.
type singleMarkerStore struct {
	*storage.MemoryStore
}

func (singleMarkerStore) ListStorageAged(ctx context.Context) (map[int64]time.Time, error) {
	return nil, errors.New("full marker scan")
}

func TestResolver_Browse_SingleJobReadsOneMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.SetStorageAged(ctx, 2, t0); err != nil {
		t.Fatal(err)
	}
	store := singleMarkerStore{f.store}
	r := New(store, f.log, aging.New(store, aging.Options{IndexID: "idx"}), Options{IndexID: "idx"})

	for _, tt := range []struct {
		jobID int64
		want  bool
	}{{2, true}, {3, false}} {
		views, err := r.Browse(ctx, Request{Scope: "sc1", JobID: tt.jobID})
		if err != nil {
			t.Fatalf("Browse(job %d) failed: %v", tt.jobID, err)
		}
		if len(views) != 1 || views[0].StorageAged != tt.want {
			t.Errorf("Browse(job %d) = %+v, want one view with StorageAged=%v", tt.jobID, views, tt.want)
		}
	}
}

func TestResolver_Restore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	files, errc, err := f.resolver.Restore(ctx, Request{Scope: "sc1"})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	var got []int64
	for file := range files {
		got = append(got, file.ID)
	}
	if err := <-errc; err != nil {
		t.Fatalf("restore stream failed: %v", err)
	}
	if diff := cmp.Diff([]int64{20, 30, 40}, got); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_Restore_Aged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.resolver.Restore(ctx, Request{Scope: "sc1", JobID: 1})
	var notFound *index.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !errors.Is(err, index.ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}

	files, errc, err := f.resolver.Restore(ctx, Request{Scope: "sc1", JobID: 1, ShowAgedData: true})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	var got []index.ArchiveFile
	for file := range files {
		got = append(got, file)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]index.ArchiveFile{{ID: 10, Name: "chunk", Size: 100}}, got); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_Restore_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	files, errc, err := f.resolver.Restore(ctx, Request{Scope: "bs1"})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	<-files
	cancel()
	for range files {
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected stream error: %v", err)
	}
}
