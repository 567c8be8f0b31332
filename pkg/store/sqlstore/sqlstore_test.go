package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wilsonlabs/formulaengine/pkg/store"
	"github.com/wilsonlabs/formulaengine/pkg/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "versions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.Record{
		ID: "v1", Kind: store.KindSnapshot, TimestampMs: 10,
		Author: &store.Author{UserID: "u1", UserName: "Ada"}, Snapshot: []byte("hello"),
	}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Snapshot) != "hello" || got.Author.UserName != "Ada" {
		t.Fatalf("got %+v", got)
	}
}

func TestGetVersionMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetVersion(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("got %+v, %v; want nil, nil", got, err)
	}
}

func TestSaveVersionOverwritesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveVersion(ctx, store.Record{ID: "v1", Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveVersion(ctx, store.Record{ID: "v1", Kind: store.KindSnapshot, TimestampMs: 2, Snapshot: []byte("b")}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TimestampMs != 2 || string(got.Snapshot) != "b" {
		t.Fatalf("got %+v, want overwritten record", got)
	}
}

func TestListVersionsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, rec := range []store.Record{
		{ID: "a", Kind: store.KindSnapshot, TimestampMs: 100, Snapshot: []byte("a")},
		{ID: "b", Kind: store.KindSnapshot, TimestampMs: 200, Snapshot: []byte("b")},
	} {
		if err := s.SaveVersion(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("got %+v", list)
	}
}

func TestUpdateVersionNotFound(t *testing.T) {
	s := newTestStore(t)
	locked := true
	err := s.UpdateVersion(context.Background(), "missing", store.UpdateFields{CheckpointLocked: &locked})
	if err != store.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateVersionSetsCheckpointLocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveVersion(ctx, store.Record{
		ID: "v1", Kind: store.KindCheckpoint, TimestampMs: 1,
		Checkpoint: &store.Checkpoint{Name: "m1"}, Snapshot: []byte("x"),
	}); err != nil {
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
		t.Fatalf("got %+v", got.Checkpoint)
	}
}

func TestDeleteVersionIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveVersion(ctx, store.Record{ID: "v1", Kind: store.KindSnapshot, TimestampMs: 1, Snapshot: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteVersion(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteVersion(ctx, "v1"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}
