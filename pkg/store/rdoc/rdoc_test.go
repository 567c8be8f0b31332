package rdoc_test

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/wilsonlabs/formulaengine/internal/shareddoc"
	"github.com/wilsonlabs/formulaengine/pkg/store"
	"github.com/wilsonlabs/formulaengine/pkg/store/rdoc"
)

func newTestStore(opts rdoc.Options) *rdoc.Store {
	return rdoc.New(shareddoc.NewDocument(), opts)
}

func TestSaveAndGetVersionRoundTrips(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	ctx := context.Background()

	snapshot := bytes.Repeat([]byte{0xAB}, 10000)
	rec := store.Record{
		ID:          "v1",
		Kind:        store.KindSnapshot,
		TimestampMs: 100,
		Author:      &store.Author{UserID: "u1", UserName: "Ada"},
		Description: "first save",
		Snapshot:    snapshot,
	}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a readable record")
	}
	if !bytes.Equal(got.Snapshot, snapshot) {
		t.Fatal("snapshot did not round-trip byte-identical")
	}
	if got.Author == nil || got.Author.UserName != "Ada" {
		t.Fatalf("author did not round-trip: %+v", got.Author)
	}
}

func TestEmptySnapshotStreamsAsSingleEmptyChunk(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	ctx := context.Background()

	rec := store.Record{ID: "v-empty", Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: []byte{}}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVersion(ctx, "v-empty")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a readable record")
	}
	if len(got.Snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %d bytes", len(got.Snapshot))
	}
}

func TestStreamingStoreProducesMultipleChunkBatches(t *testing.T) {
	s := newTestStore(rdoc.Options{ChunkSize: 1024, BatchSize: 2})
	ctx := context.Background()

	// Pseudo-random bytes barely compress, so the gzip payload stays near
	// 10000 bytes: about ten 1 KiB chunks, appended two per transaction.
	snapshot := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(snapshot)
	rec := store.Record{ID: "v-stream", Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: snapshot}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVersion(ctx, "v-stream")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !bytes.Equal(got.Snapshot, snapshot) {
		t.Fatal("expected byte-identical snapshot once complete")
	}
}

func TestListVersionsOrdering(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	ctx := context.Background()

	must := func(id string, ts int64) {
		if err := s.SaveVersion(ctx, store.Record{ID: id, Kind: store.KindSnapshot, TimestampMs: ts, Snapshot: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}
	must("a", 100)
	must("b", 200)
	must("c", 200)

	list, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d records, want 3", len(list))
	}
	// b and c tie on timestamp; c was inserted later so it sorts first.
	want := []string{"c", "b", "a"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: got %q, want %q (full order %v)", i, list[i].ID, id, ids(list))
		}
	}
}

func ids(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestUpdateVersionNotFound(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	locked := true
	err := s.UpdateVersion(context.Background(), "missing", store.UpdateFields{CheckpointLocked: &locked})
	if err != store.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateVersionSetsCheckpointLocked(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	ctx := context.Background()
	rec := store.Record{
		ID: "v1", Kind: store.KindCheckpoint, TimestampMs: 1,
		Checkpoint: &store.Checkpoint{Name: "milestone"},
		Snapshot:   []byte("x"),
	}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}
	locked := true
	if err := s.UpdateVersion(ctx, "v1", store.UpdateFields{CheckpointLocked: &locked}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Checkpoint == nil || !got.Checkpoint.Locked {
		t.Fatalf("expected checkpoint.locked=true, got %+v", got.Checkpoint)
	}
}

func TestDeleteVersionRemovesFromOrder(t *testing.T) {
	s := newTestStore(rdoc.Options{})
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.SaveVersion(ctx, store.Record{ID: id, Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: []byte("x")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteVersion(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("got %v, want only b", ids(list))
	}

	// Idempotent: deleting an absent id is not an error.
	if err := s.DeleteVersion(ctx, "a"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestCrashRecoveryFinalizesCompleteAndPrunesStale(t *testing.T) {
	doc := shareddoc.NewDocument()
	// A fixed "now" far past any createdAtMs this test sets, so the
	// stale record's age comfortably clears the default 10-minute
	// pruning threshold without depending on wall-clock time.
	s := rdoc.New(doc, rdoc.Options{ChunkSize: 4, Now: func() int64 { return 10_000_000 }})

	ctx := context.Background()
	// A record whose chunks all landed, but whose completion marker
	// never got flipped (simulated writer crash between Tk and Tfinal).
	if err := s.SaveVersion(ctx, store.Record{ID: "recoverable", Kind: store.KindSnapshot, TimestampMs: 5, Snapshot: []byte("12345678")}); err != nil {
		t.Fatal(err)
	}
	forceIncomplete(t, doc, "recoverable")

	// A record with missing chunks and an ancient createdAtMs, which
	// should be pruned outright rather than finalized.
	if err := s.SaveVersion(ctx, store.Record{ID: "stale", Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: []byte("abcdefgh")}); err != nil {
		t.Fatal(err)
	}
	forceIncompleteWithMissingChunk(t, doc, "stale")

	// ListVersions opportunistically prunes first, which is what
	// finalizes "recoverable" and removes "stale".
	list, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVersion(ctx, "recoverable")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected recoverable record to finalize and become readable")
	}

	for _, r := range list {
		if r.ID == "stale" {
			t.Fatal("expected stale incomplete record to be pruned, found it in ListVersions")
		}
	}
}

func TestCrashRecoveryDoesNotFinalizeRecordWithCorruptScalarMetadata(t *testing.T) {
	doc := shareddoc.NewDocument()
	s := rdoc.New(doc, rdoc.Options{ChunkSize: 4, Now: func() int64 { return 10_000_000 }})
	ctx := context.Background()

	// All chunks land and verify, but the kind field is corrupted before
	// the completion marker would have been flipped.
	if err := s.SaveVersion(ctx, store.Record{ID: "corrupt", Kind: store.KindSnapshot, TimestampMs: 5, Snapshot: []byte("12345678")}); err != nil {
		t.Fatal(err)
	}
	forceIncompleteWithCorruptKind(t, doc, "corrupt")

	if _, err := s.ListVersions(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVersion(ctx, "corrupt")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected record with corrupt scalar metadata to never finalize, even with all chunks present")
	}
}

func forceIncompleteWithCorruptKind(t *testing.T, doc *shareddoc.Document, id string) {
	t.Helper()
	versions, err := shareddoc.Root(doc, "versions")
	if err != nil {
		t.Fatal(err)
	}
	recVal, ok := versions.Get(id)
	if !ok {
		t.Fatalf("record %q not found", id)
	}
	recMap := recVal.(*shareddoc.Map)
	recMap.Set("snapshotComplete", false)
	recMap.Set("kind", "not-a-real-kind")
}

func forceIncomplete(t *testing.T, doc *shareddoc.Document, id string) {
	t.Helper()
	versions, err := shareddoc.Root(doc, "versions")
	if err != nil {
		t.Fatal(err)
	}
	recVal, ok := versions.Get(id)
	if !ok {
		t.Fatalf("record %q not found", id)
	}
	recVal.(*shareddoc.Map).Set("snapshotComplete", false)
}

func forceIncompleteWithMissingChunk(t *testing.T, doc *shareddoc.Document, id string) {
	t.Helper()
	versions, err := shareddoc.Root(doc, "versions")
	if err != nil {
		t.Fatal(err)
	}
	recVal, ok := versions.Get(id)
	if !ok {
		t.Fatalf("record %q not found", id)
	}
	recMap := recVal.(*shareddoc.Map)
	recMap.Set("snapshotComplete", false)
	var ancient int64 = 1
	recMap.Set("createdAtMs", ancient)
	chunksVal, _ := recMap.Get("snapshotChunks")
	chunksArr := chunksVal.(*shareddoc.Array)
	chunksArr.DeleteValue(func(any) bool { return true })
}
