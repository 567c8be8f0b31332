// Package rdoc implements the primary version-history backend: a
// store.Store whose records live inside a shared replicated document
// (internal/shareddoc), streamed across many small transactions so a
// single snapshot never forces one oversized replicated update.
package rdoc

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"github.com/wilsonlabs/formulaengine/internal/shareddoc"
	"github.com/wilsonlabs/formulaengine/pkg/store"
)

const (
	defaultChunkSize        = 64 * 1024
	defaultBatchBytesTarget = 256 * 1024
	compressionThreshold    = 4 * 1024
	defaultPruneOlderThanMs = 10 * 60 * 1000
)

// Options configures a Store. The zero value uses sensible defaults.
type Options struct {
	// ChunkSize is the byte size each snapshotChunks entry is split
	// into. Zero uses the 64 KiB default.
	ChunkSize int
	// BatchSize is how many chunks a single append transaction carries.
	// Zero derives max(1, floor(256 KiB / ChunkSize)).
	BatchSize int
	// Now returns the current time in epoch milliseconds. Defaults, when
	// nil, to a per-Store counter that starts at 1 and increases by one
	// per call, since tests run without a toolchain clock dependency and
	// rdoc has no wall-clock requirement beyond ordering and staleness
	// comparisons.
	Now func() int64
	// ForceBase64 makes SaveVersion always use the single-transaction
	// base64 encoding fallback path, for callers who want it
	// unconditionally (e.g. a host embedding rdoc where chunked
	// nested-array construction is undesirable for other reasons).
	ForceBase64 bool
}

// Store is the replicated-document-backed store.Store implementation.
type Store struct {
	doc       *shareddoc.Document
	chunkSize int
	batchSize int
	now       func() int64
	base64    bool
}

// New returns a Store writing into doc's "versions"/"versionsMeta" roots.
func New(doc *shareddoc.Document, opts Options) *Store {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchBytesTarget / chunkSize
		if batchSize < 1 {
			batchSize = 1
		}
	}
	now := opts.Now
	if now == nil {
		now = monotonicClock()
	}
	return &Store{doc: doc, chunkSize: chunkSize, batchSize: batchSize, now: now, base64: opts.ForceBase64}
}

// monotonicClock returns a closure producing a strictly increasing
// millisecond counter, standing in for wall-clock time without reaching
// for time.Now (ordering and staleness comparisons are what this
// package actually needs, not calendar time).
func monotonicClock() func() int64 {
	var n int64
	return func() int64 {
		n++
		return n
	}
}

var _ store.Store = (*Store)(nil)

// SaveVersion compresses the snapshot if it clears the size threshold,
// splits it into chunks, writes the record header in transaction T0,
// appends chunk batches in transactions T1..Tk, and marks the record
// complete in a final transaction.
func (s *Store) SaveVersion(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	compression := "none"
	payload := rec.Snapshot
	if len(payload) >= compressionThreshold {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return fmt.Errorf("rdoc: compress snapshot: %w", err)
		}
		payload = compressed
		compression = "gzip"
	}

	encoding := "chunks"
	if s.base64 {
		encoding = "base64"
	}

	chunks := splitChunks(payload, s.chunkSize)

	now := s.now()
	createdAtMs := now
	if rec.CreatedAtMs != nil {
		createdAtMs = *rec.CreatedAtMs
	}

	versions, versionsMeta, err := s.roots()
	if err != nil {
		return err
	}

	var saveErr error
	s.doc.Transact(func(tx *shareddoc.Tx) {
		recMap := versions.NewNestedMap()
		recMap.Set("schemaVersion", 1)
		recMap.Set("id", rec.ID)
		recMap.Set("kind", string(rec.Kind))
		recMap.Set("timestampMs", rec.TimestampMs)
		recMap.Set("createdAtMs", createdAtMs)
		if rec.Author != nil {
			author := recMap.NewNestedMap()
			author.Set("userId", rec.Author.UserID)
			author.Set("userName", rec.Author.UserName)
			recMap.Set("author", author)
		}
		recMap.Set("description", rec.Description)
		if rec.Checkpoint != nil {
			cp := recMap.NewNestedMap()
			cp.Set("name", rec.Checkpoint.Name)
			cp.Set("locked", rec.Checkpoint.Locked)
			if rec.Checkpoint.Annotations != nil {
				ann := recMap.NewNestedMap()
				for k, v := range rec.Checkpoint.Annotations {
					ann.Set(k, v)
				}
				cp.Set("annotations", ann)
			}
			recMap.Set("checkpoint", cp)
		}
		recMap.Set("compression", compression)
		recMap.Set("snapshotEncoding", encoding)

		if encoding == "base64" {
			// Single-transaction fallback: complete immediately, no
			// chunk streaming.
			recMap.Set("snapshotBase64", bytesToBase64(payload))
			recMap.Set("snapshotComplete", true)
		} else {
			recMap.Set("snapshotComplete", false)
			recMap.Set("snapshotChunkCountExpected", len(chunks))
			recMap.Set("snapshotChunks", recMap.NewNestedArray())
			recMap.Set("chunkDigests", recMap.NewNestedArray())
		}

		versions.Set(rec.ID, recMap)
		orderVal, ok := versionsMeta.Get("order")
		var order *shareddoc.Array
		if ok {
			order, ok = orderVal.(*shareddoc.Array)
		}
		if !ok {
			order = versionsMeta.NewNestedArray()
			versionsMeta.Set("order", order)
		}
		order.Push(rec.ID)
	})

	if encoding != "chunks" {
		return nil
	}

	if err := s.appendChunkBatches(rec.ID, chunks); err != nil {
		return err
	}

	s.doc.Transact(func(tx *shareddoc.Tx) {
		recVal, ok := versions.Get(rec.ID)
		if !ok {
			saveErr = fmt.Errorf("rdoc: record %q vanished before finalize", rec.ID)
			return
		}
		recVal.(*shareddoc.Map).Set("snapshotComplete", true)
	})
	return saveErr
}

// appendChunkBatches writes chunks into id's snapshotChunks/chunkDigests
// arrays in groups of at most s.batchSize, one transaction per batch.
func (s *Store) appendChunkBatches(id string, chunks [][]byte) error {
	versions, _, err := s.roots()
	if err != nil {
		return err
	}
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		var txErr error
		s.doc.Transact(func(tx *shareddoc.Tx) {
			recVal, ok := versions.Get(id)
			if !ok {
				txErr = fmt.Errorf("rdoc: record %q vanished mid-stream", id)
				return
			}
			recMap := recVal.(*shareddoc.Map)
			chunksArrVal, _ := recMap.Get("snapshotChunks")
			digestsArrVal, _ := recMap.Get("chunkDigests")
			chunksArr := chunksArrVal.(*shareddoc.Array)
			digestsArr := digestsArrVal.(*shareddoc.Array)
			for _, c := range batch {
				digest := blake2b.Sum256(c)
				chunksArr.Push(append([]byte(nil), c...))
				digestsArr.Push(digest)
			}
		})
		if txErr != nil {
			return txErr
		}
	}
	return nil
}

// roots fetches the two document roots this backend writes into,
// applying shareddoc.Root's root-normalization rewrap.
func (s *Store) roots() (versions, versionsMeta *shareddoc.Map, err error) {
	versions, err = shareddoc.Root(s.doc, "versions")
	if err != nil {
		return nil, nil, fmt.Errorf("rdoc: versions root: %w", err)
	}
	versionsMeta, err = shareddoc.Root(s.doc, "versionsMeta")
	if err != nil {
		return nil, nil, fmt.Errorf("rdoc: versionsMeta root: %w", err)
	}
	return versions, versionsMeta, nil
}

func splitChunks(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for start := 0; start < len(b); start += size {
		end := start + size
		if end > len(b) {
			end = len(b)
		}
		chunks = append(chunks, append([]byte(nil), b[start:end]...))
	}
	return chunks
}

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
