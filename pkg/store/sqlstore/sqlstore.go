// Package sqlstore implements a store.Store over database/sql using
// modernc.org/sqlite, a pure-Go SQLite driver requiring no cgo toolchain.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/wilsonlabs/formulaengine/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS versions (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	timestamp_ms  INTEGER NOT NULL,
	created_at_ms INTEGER,
	author        TEXT,
	description   TEXT,
	checkpoint    TEXT,
	snapshot      BLOB NOT NULL,
	insertion_seq INTEGER NOT NULL
);
`

// Store is a database/sql-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the sqlite database at path and
// ensures the versions table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveVersion inserts or replaces record inside one transaction: it reads
// the next insertion sequence, then runs a single upsert, which keeps an
// existing row's insertion_seq.
func (s *Store) SaveVersion(ctx context.Context, rec store.Record) error {
	authorJSON, err := marshalOptional(rec.Author)
	if err != nil {
		return err
	}
	checkpointJSON, err := marshalOptional(rec.Checkpoint)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(insertion_seq), 0) + 1 FROM versions`).Scan(&nextSeq); err != nil {
		return fmt.Errorf("sqlstore: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (id, kind, timestamp_ms, created_at_ms, author, description, checkpoint, snapshot, insertion_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, timestamp_ms=excluded.timestamp_ms, created_at_ms=excluded.created_at_ms,
			author=excluded.author, description=excluded.description, checkpoint=excluded.checkpoint,
			snapshot=excluded.snapshot
	`, rec.ID, string(rec.Kind), rec.TimestampMs, rec.CreatedAtMs, authorJSON, rec.Description, checkpointJSON, rec.Snapshot, nextSeq)
	if err != nil {
		return fmt.Errorf("sqlstore: insert %q: %w", rec.ID, err)
	}
	return tx.Commit()
}

// GetVersion returns (nil, nil) if id has no row.
func (s *Store) GetVersion(ctx context.Context, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, timestamp_ms, created_at_ms, author, description, checkpoint, snapshot
		FROM versions WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListVersions returns every record sorted by timestamp descending, tie-
// broken by insertion order descending then id descending.
func (s *Store) ListVersions(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, timestamp_ms, created_at_ms, author, description, checkpoint, snapshot
		FROM versions ORDER BY timestamp_ms DESC, insertion_seq DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateVersion applies a partial update inside one transaction, returning
// store.ErrNotFound if id has no row.
func (s *Store) UpdateVersion(ctx context.Context, id string, fields store.UpdateFields) error {
	if fields.CheckpointLocked == nil {
		return s.requireExists(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	var checkpointJSON sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT checkpoint FROM versions WHERE id = ?`, id).Scan(&checkpointJSON); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return fmt.Errorf("sqlstore: read checkpoint for %q: %w", id, err)
	}

	var cp store.Checkpoint
	if checkpointJSON.Valid {
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err != nil {
			return fmt.Errorf("sqlstore: corrupt checkpoint for %q: %w", id, err)
		}
	}
	cp.Locked = *fields.CheckpointLocked
	updated, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal checkpoint for %q: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE versions SET checkpoint = ? WHERE id = ?`, string(updated), id); err != nil {
		return fmt.Errorf("sqlstore: update %q: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) requireExists(ctx context.Context, id string) error {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM versions WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	return err
}

// DeleteVersion removes id's row. Deleting an absent id is not an
// error.
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM versions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete %q: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		id, kind, description        string
		timestampMs                  int64
		createdAtMs                  sql.NullInt64
		authorJSON, checkpointJSON   sql.NullString
		snapshot                     []byte
	)
	if err := row.Scan(&id, &kind, &timestampMs, &createdAtMs, &authorJSON, &description, &checkpointJSON, &snapshot); err != nil {
		return nil, err
	}

	rec := &store.Record{
		ID:          id,
		Kind:        store.Kind(kind),
		TimestampMs: timestampMs,
		Description: description,
		Snapshot:    snapshot,
	}
	if createdAtMs.Valid {
		rec.CreatedAtMs = &createdAtMs.Int64
	}
	if authorJSON.Valid {
		var a store.Author
		if err := json.Unmarshal([]byte(authorJSON.String), &a); err != nil {
			return nil, fmt.Errorf("sqlstore: corrupt author for %q: %w", id, err)
		}
		rec.Author = &a
	}
	if checkpointJSON.Valid {
		var c store.Checkpoint
		if err := json.Unmarshal([]byte(checkpointJSON.String), &c); err != nil {
			return nil, fmt.Errorf("sqlstore: corrupt checkpoint for %q: %w", id, err)
		}
		rec.Checkpoint = &c
	}
	return rec, nil
}

func marshalOptional(v any) (any, error) {
	switch t := v.(type) {
	case *store.Author:
		if t == nil {
			return nil, nil
		}
		b, err := json.Marshal(t)
		return string(b), err
	case *store.Checkpoint:
		if t == nil {
			return nil, nil
		}
		b, err := json.Marshal(t)
		return string(b), err
	default:
		return nil, fmt.Errorf("sqlstore: unsupported optional field type %T", v)
	}
}
