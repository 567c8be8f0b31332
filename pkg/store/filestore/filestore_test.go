package filestore_test

import (
	"context"
	"testing"

	"github.com/wilsonlabs/formulaengine/pkg/store"
	"github.com/wilsonlabs/formulaengine/pkg/store/filestore"
)

func newTestStore(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.Record{
		ID:          "v1",
		Kind:        store.KindSnapshot,
		TimestampMs: 10,
		Author:      &store.Author{UserID: "u1"},
		Snapshot:    []byte("hello world"),
	}
	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetVersion(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Snapshot) != "hello world" {
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
	got, err := s.GetVersion(ctx, "v1")
	if err != nil || got != nil {
		t.Fatalf("expected record gone, got %+v, %v", got, err)
	}
}
