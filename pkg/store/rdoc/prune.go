package rdoc

import (
	"context"

	"golang.org/x/crypto/blake2b"

	"github.com/wilsonlabs/formulaengine/internal/shareddoc"
	"github.com/wilsonlabs/formulaengine/pkg/store"
)

// UpdateVersion applies a partial update: a nil field is left untouched,
// and an absent id is reported via store.ErrNotFound.
func (s *Store) UpdateVersion(ctx context.Context, id string, fields store.UpdateFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	versions, _, err := s.roots()
	if err != nil {
		return err
	}

	notFound := false
	s.doc.Transact(func(tx *shareddoc.Tx) {
		recVal, ok := versions.Get(id)
		if !ok {
			notFound = true
			return
		}
		recMap := recVal.(*shareddoc.Map)
		if fields.CheckpointLocked != nil {
			cpVal, ok := recMap.Get("checkpoint")
			var cp *shareddoc.Map
			if ok {
				cp, ok = cpVal.(*shareddoc.Map)
			}
			if !ok {
				cp = recMap.NewNestedMap()
				recMap.Set("checkpoint", cp)
			}
			cp.Set("locked", *fields.CheckpointLocked)
		}
	})
	if notFound {
		return store.ErrNotFound
	}
	return nil
}

// DeleteVersion removes id from the map and scrubs every occurrence from
// versionsMeta.order. Deleting an absent id is not an error
// (store.Store's idempotence contract).
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	versions, versionsMeta, err := s.roots()
	if err != nil {
		return err
	}
	s.doc.Transact(func(tx *shareddoc.Tx) {
		versions.Delete(id)
		orderVal, ok := versionsMeta.Get("order")
		if !ok {
			return
		}
		order, ok := orderVal.(*shareddoc.Array)
		if !ok {
			return
		}
		order.DeleteAllValues(func(v any) bool {
			vid, ok := v.(string)
			return ok && vid == id
		})
	})
	return nil
}

// pruneIncompleteVersions recovers from interrupted saves: records whose
// chunks have all landed (and whose digests all verify) are finalized;
// records that are both incomplete and older than olderThanMs are
// pruned outright.
func (s *Store) pruneIncompleteVersions(olderThanMs int64) error {
	versions, versionsMeta, err := s.roots()
	if err != nil {
		return err
	}
	now := s.now()

	var finalize, prune []string
	for _, id := range versions.Keys() {
		recVal, ok := versions.Get(id)
		if !ok {
			continue
		}
		recMap, ok := recVal.(*shareddoc.Map)
		if !ok {
			continue
		}
		completeVal, _ := recMap.Get("snapshotComplete")
		complete, _ := completeVal.(bool)
		if complete {
			continue
		}

		if readyToFinalize(recMap) {
			finalize = append(finalize, id)
			continue
		}

		createdVal, hasCreated := recMap.Get("createdAtMs")
		tsVal, hasTs := recMap.Get("timestampMs")
		var ts int64
		if hasCreated {
			ts, _ = createdVal.(int64)
		} else if hasTs {
			ts, _ = tsVal.(int64)
		}
		if ts < 0 {
			ts = 0
		}
		if ts > now {
			ts = now
		}
		if now-ts >= olderThanMs {
			prune = append(prune, id)
		}
	}

	if len(finalize) == 0 && len(prune) == 0 {
		return nil
	}

	s.doc.Transact(func(tx *shareddoc.Tx) {
		for _, id := range finalize {
			recVal, ok := versions.Get(id)
			if !ok {
				continue
			}
			recMap, ok := recVal.(*shareddoc.Map)
			if !ok || !readyToFinalize(recMap) {
				continue
			}
			recMap.Set("snapshotComplete", true)
		}
		for _, id := range prune {
			versions.Delete(id)
			orderVal, ok := versionsMeta.Get("order")
			if !ok {
				continue
			}
			order, ok := orderVal.(*shareddoc.Array)
			if !ok {
				continue
			}
			order.DeleteAllValues(func(v any) bool {
				vid, ok := v.(string)
				return ok && vid == id
			})
		}
	})
	return nil
}

// readyToFinalize reports whether recMap can safely transition to
// snapshotComplete=true: every chunk must be present with a verifying
// digest, and the scalar metadata GetVersion itself validates
// (schemaVersion, kind, timestampMs) must already be well-formed. A
// chunk-complete record with corrupt scalar metadata would otherwise be
// finalized only to have GetVersion immediately error on it.
func readyToFinalize(recMap *shareddoc.Map) bool {
	return allChunksPresentAndValid(recMap) && scalarMetadataValid(recMap)
}

// scalarMetadataValid runs the same checks GetVersion/decodeRecord apply
// to a complete record's scalar fields, without decoding the snapshot
// itself.
func scalarMetadataValid(recMap *shareddoc.Map) bool {
	schemaVal, _ := recMap.Get("schemaVersion")
	schema, ok := schemaVal.(int)
	if !ok || schema != 1 {
		return false
	}

	kindVal, _ := recMap.Get("kind")
	kind, _ := kindVal.(string)
	switch store.Kind(kind) {
	case store.KindSnapshot, store.KindCheckpoint, store.KindRestore:
	default:
		return false
	}

	tsVal, _ := recMap.Get("timestampMs")
	if _, ok := tsVal.(int64); !ok {
		return false
	}
	return true
}

// allChunksPresentAndValid reports whether recMap's chunk array has
// reached its expected length with every digest verifying. The
// blake2b-256 check catches a torn write that produces the right chunk
// count with a corrupt tail chunk, which a length check alone would
// wrongly finalize.
func allChunksPresentAndValid(recMap *shareddoc.Map) bool {
	encodingVal, _ := recMap.Get("snapshotEncoding")
	encoding, _ := encodingVal.(string)
	if encoding == "base64" {
		v, ok := recMap.Get("snapshotBase64")
		if !ok {
			return false
		}
		_, ok = v.(string)
		return ok
	}

	expectedVal, _ := recMap.Get("snapshotChunkCountExpected")
	expected, _ := expectedVal.(int)
	chunksVal, ok := recMap.Get("snapshotChunks")
	if !ok {
		return false
	}
	chunksArr, ok := chunksVal.(*shareddoc.Array)
	if !ok || chunksArr.Len() < expected {
		return false
	}
	digestsVal, ok := recMap.Get("chunkDigests")
	if !ok {
		return false
	}
	digestsArr, ok := digestsVal.(*shareddoc.Array)
	if !ok || digestsArr.Len() != chunksArr.Len() {
		return false
	}
	chunks := chunksArr.Values()
	digests := digestsArr.Values()
	for i, c := range chunks {
		b, ok := c.([]byte)
		if !ok {
			return false
		}
		want, ok := digests[i].([32]byte)
		if !ok {
			return false
		}
		if blake2b.Sum256(b) != want {
			return false
		}
	}
	return true
}
