// Package store defines the version-history backend contract: a minimal,
// backend-agnostic interface every storage plane (pkg/store/rdoc,
// filestore, sqlstore, kvstore, httpstore) implements.
package store

import (
	"context"
	"errors"
)

// Kind enumerates the version record's logical role.
type Kind string

const (
	KindSnapshot  Kind = "snapshot"
	KindCheckpoint Kind = "checkpoint"
	KindRestore   Kind = "restore"
)

// Author identifies who produced a version record.
type Author struct {
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

// Checkpoint carries the optional checkpoint-only fields of a record.
type Checkpoint struct {
	Name        string            `json:"name,omitempty"`
	Locked      bool              `json:"locked,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Record is the logical version record, independent of any backend's
// on-disk representation.
type Record struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	TimestampMs int64       `json:"timestampMs"`
	CreatedAtMs *int64      `json:"createdAtMs,omitempty"`
	Author      *Author     `json:"author,omitempty"`
	Description string      `json:"description,omitempty"`
	Checkpoint  *Checkpoint `json:"checkpoint,omitempty"`
	Snapshot    []byte      `json:"snapshot"`
}

// UpdateFields is a partial update; a nil field is left untouched and is
// a no-op.
type UpdateFields struct {
	CheckpointLocked *bool
}

// ErrNotFound is returned by UpdateVersion when id does not exist.
var ErrNotFound = errors.New("store: version not found")

// Store is the version-history backend contract. Every method takes
// context.Context first, matching the blocking-call idiom used
// throughout the RPC boundary.
//
// Implementations MUST be safe for concurrent use; callers never
// serialize writes themselves.
type Store interface {
	// SaveVersion persists record. It must be observable to a subsequent
	// ListVersions call that starts after SaveVersion returns.
	SaveVersion(ctx context.Context, record Record) error

	// GetVersion returns the record for id, or (nil, nil) if it does not
	// exist or is not yet readable. It returns an error only for schema
	// mismatches or corrupt metadata on an otherwise-complete record.
	GetVersion(ctx context.Context, id string) (*Record, error)

	// ListVersions returns every readable record, sorted by TimestampMs
	// descending, tie-broken by insertion order descending, then by id
	// lexicographically descending.
	ListVersions(ctx context.Context) ([]Record, error)

	// UpdateVersion applies a partial update. Returns ErrNotFound if id
	// does not exist.
	UpdateVersion(ctx context.Context, id string, fields UpdateFields) error

	// DeleteVersion removes id. It is idempotent: deleting an absent id
	// is not an error.
	DeleteVersion(ctx context.Context, id string) error
}
