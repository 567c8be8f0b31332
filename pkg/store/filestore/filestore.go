// Package filestore implements a store.Store backed by one JSON file
// per record under a directory, snapshot bytes snappy-compressed on
// disk.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/snappy"

	"github.com/wilsonlabs/formulaengine/pkg/store"
)

// record is the on-disk JSON shape. Snapshot is stored snappy-compressed;
// snappy's block format embeds the uncompressed length, so no separate
// length field is kept.
type record struct {
	SchemaVersion int               `json:"schemaVersion"`
	ID            string            `json:"id"`
	Kind          store.Kind        `json:"kind"`
	TimestampMs   int64             `json:"timestampMs"`
	CreatedAtMs   *int64            `json:"createdAtMs,omitempty"`
	Author        *store.Author     `json:"author,omitempty"`
	Description   string            `json:"description,omitempty"`
	Checkpoint    *store.Checkpoint `json:"checkpoint,omitempty"`
	SnapshotZ     []byte            `json:"snapshotSnappy"`
	InsertionSeq  int64             `json:"insertionSeq"`
}

// Store is a directory of one-file-per-record JSON documents.
type Store struct {
	dir string
	mu  sync.RWMutex
	seq int64
}

var _ store.Store = (*Store)(nil)

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SaveVersion writes record to its own file, replacing any prior
// occupant of the same id.
func (s *Store) SaveVersion(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	on := record{
		SchemaVersion: 1,
		ID:            rec.ID,
		Kind:          rec.Kind,
		TimestampMs:   rec.TimestampMs,
		CreatedAtMs:   rec.CreatedAtMs,
		Author:        rec.Author,
		Description:   rec.Description,
		Checkpoint:    rec.Checkpoint,
		SnapshotZ:     snappy.Encode(nil, rec.Snapshot),
		InsertionSeq:  s.seq,
	}
	data, err := json.Marshal(on)
	if err != nil {
		return fmt.Errorf("filestore: marshal record %q: %w", rec.ID, err)
	}

	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write %q: %w", rec.ID, err)
	}
	return os.Rename(tmp, s.path(rec.ID))
}

// GetVersion reads and decodes the record for id, returning (nil, nil)
// if the file does not exist.
func (s *Store) GetVersion(ctx context.Context, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(id)
}

func (s *Store) readLocked(id string) (*store.Record, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %q: %w", id, err)
	}
	var on record
	if err := json.Unmarshal(data, &on); err != nil {
		return nil, fmt.Errorf("filestore: corrupt record %q: %w", id, err)
	}
	if on.SchemaVersion != 1 {
		return nil, fmt.Errorf("filestore: unsupported schemaVersion %d for %q", on.SchemaVersion, id)
	}
	snapshot, err := snappy.Decode(nil, on.SnapshotZ)
	if err != nil {
		return nil, fmt.Errorf("filestore: decompress %q: %w", id, err)
	}
	return &store.Record{
		ID:          on.ID,
		Kind:        on.Kind,
		TimestampMs: on.TimestampMs,
		CreatedAtMs: on.CreatedAtMs,
		Author:      on.Author,
		Description: on.Description,
		Checkpoint:  on.Checkpoint,
		Snapshot:    snapshot,
	}, nil
}

// ListVersions returns every record sorted by timestamp descending, tie-
// broken by insertion order descending then id descending.
func (s *Store) ListVersions(ctx context.Context) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: read dir: %w", err)
	}

	type withSeq struct {
		rec store.Record
		seq int64
	}
	var all []withSeq
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		data, err := os.ReadFile(s.path(id))
		if err != nil {
			continue
		}
		var on record
		if err := json.Unmarshal(data, &on); err != nil {
			continue
		}
		snapshot, err := snappy.Decode(nil, on.SnapshotZ)
		if err != nil {
			return nil, fmt.Errorf("filestore: decompress %q: %w", id, err)
		}
		all = append(all, withSeq{rec: store.Record{
			ID:          on.ID,
			Kind:        on.Kind,
			TimestampMs: on.TimestampMs,
			CreatedAtMs: on.CreatedAtMs,
			Author:      on.Author,
			Description: on.Description,
			Checkpoint:  on.Checkpoint,
			Snapshot:    snapshot,
		}, seq: on.InsertionSeq})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.rec.TimestampMs != b.rec.TimestampMs {
			return a.rec.TimestampMs > b.rec.TimestampMs
		}
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		return a.rec.ID > b.rec.ID
	})

	out := make([]store.Record, len(all))
	for i, w := range all {
		out[i] = w.rec
	}
	return out, nil
}

// UpdateVersion applies a partial update, returning store.ErrNotFound
// if id has no file.
func (s *Store) UpdateVersion(ctx context.Context, id string, fields store.UpdateFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("filestore: read %q: %w", id, err)
	}
	var on record
	if err := json.Unmarshal(data, &on); err != nil {
		return fmt.Errorf("filestore: corrupt record %q: %w", id, err)
	}

	if fields.CheckpointLocked != nil {
		if on.Checkpoint == nil {
			on.Checkpoint = &store.Checkpoint{}
		}
		on.Checkpoint.Locked = *fields.CheckpointLocked
	}

	out, err := json.Marshal(on)
	if err != nil {
		return fmt.Errorf("filestore: marshal %q: %w", id, err)
	}
	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("filestore: write %q: %w", id, err)
	}
	return os.Rename(tmp, s.path(id))
}

// DeleteVersion removes id's file. Deleting an absent id is not an
// error.
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: delete %q: %w", id, err)
	}
	return nil
}
