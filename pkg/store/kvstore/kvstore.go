// Package kvstore implements a store.Store over go.etcd.io/bbolt, an
// embedded transactional key/value store. It mirrors
// pkg/store/rdoc's "versions"/"versionsMeta" split — a records bucket
// keyed by id, and a sequence bucket recording insertion order — but
// against a real transactional KV engine instead of a replicated
// document, since the structural shape of the two problems is the same.
package kvstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/wilsonlabs/formulaengine/pkg/store"
)

var (
	recordsBucket = []byte("versions")
	orderBucket   = []byte("versionsMeta.order")
)

// onDiskRecord is the JSON shape stored per key in recordsBucket.
type onDiskRecord struct {
	SchemaVersion int               `json:"schemaVersion"`
	ID            string            `json:"id"`
	Kind          store.Kind        `json:"kind"`
	TimestampMs   int64             `json:"timestampMs"`
	CreatedAtMs   *int64            `json:"createdAtMs,omitempty"`
	Author        *store.Author     `json:"author,omitempty"`
	Description   string            `json:"description,omitempty"`
	Checkpoint    *store.Checkpoint `json:"checkpoint,omitempty"`
	Snapshot      []byte            `json:"snapshot"`
}

// Store is a bbolt-backed store.Store.
type Store struct {
	db *bolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the bbolt database at path and
// ensures both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveVersion writes record and appends its id to the order sequence
// in one bbolt transaction, so it is observable to any ListVersions
// call that starts after SaveVersion returns.
func (s *Store) SaveVersion(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	on := onDiskRecord{
		SchemaVersion: 1, ID: rec.ID, Kind: rec.Kind, TimestampMs: rec.TimestampMs,
		CreatedAtMs: rec.CreatedAtMs, Author: rec.Author, Description: rec.Description,
		Checkpoint: rec.Checkpoint, Snapshot: rec.Snapshot,
	}
	data, err := json.Marshal(on)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %q: %w", rec.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		order := tx.Bucket(orderBucket)
		existed := records.Get([]byte(rec.ID)) != nil
		if err := records.Put([]byte(rec.ID), data); err != nil {
			return err
		}
		if !existed {
			seq, _ := order.NextSequence()
			return order.Put(seqKey(seq), []byte(rec.ID))
		}
		return nil
	})
}

// GetVersion returns (nil, nil) if id has no entry.
func (s *Store) GetVersion(ctx context.Context, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *store.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		decoded, err := decodeRecord(data)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	return rec, err
}

// ListVersions returns every record sorted by timestamp descending, tie-
// broken by insertion order descending then id descending, using the
// order bucket's key sequence as the insertion-order tiebreak.
func (s *Store) ListVersions(ctx context.Context) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type withSeq struct {
		rec store.Record
		seq uint64
	}
	var all []withSeq
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		order := tx.Bucket(orderBucket)
		return order.ForEach(func(k, v []byte) error {
			data := records.Get(v)
			if data == nil {
				return nil
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			all = append(all, withSeq{rec: *rec, seq: binary.BigEndian.Uint64(k)})
			return nil
		})
	})
	if err != nil {
		return nil, err
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

// UpdateVersion applies a partial update in one transaction, returning
// store.ErrNotFound if id has no entry.
func (s *Store) UpdateVersion(ctx context.Context, id string, fields store.UpdateFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		data := records.Get([]byte(id))
		if data == nil {
			return store.ErrNotFound
		}
		var on onDiskRecord
		if err := json.Unmarshal(data, &on); err != nil {
			return fmt.Errorf("kvstore: corrupt record %q: %w", id, err)
		}
		if fields.CheckpointLocked != nil {
			if on.Checkpoint == nil {
				on.Checkpoint = &store.Checkpoint{}
			}
			on.Checkpoint.Locked = *fields.CheckpointLocked
		}
		updated, err := json.Marshal(on)
		if err != nil {
			return fmt.Errorf("kvstore: marshal %q: %w", id, err)
		}
		return records.Put([]byte(id), updated)
	})
}

// DeleteVersion removes id from both buckets. Deleting an absent id is
// not an error.
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		order := tx.Bucket(orderBucket)
		if err := records.Delete([]byte(id)); err != nil {
			return err
		}
		c := order.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := order.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeRecord(data []byte) (*store.Record, error) {
	var on onDiskRecord
	if err := json.Unmarshal(data, &on); err != nil {
		return nil, fmt.Errorf("kvstore: corrupt record: %w", err)
	}
	if on.SchemaVersion != 1 {
		return nil, fmt.Errorf("kvstore: unsupported schemaVersion %d for %q", on.SchemaVersion, on.ID)
	}
	return &store.Record{
		ID: on.ID, Kind: on.Kind, TimestampMs: on.TimestampMs, CreatedAtMs: on.CreatedAtMs,
		Author: on.Author, Description: on.Description, Checkpoint: on.Checkpoint, Snapshot: on.Snapshot,
	}, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
