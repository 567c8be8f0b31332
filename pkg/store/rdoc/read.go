package rdoc

import (
	"context"
	"fmt"
	"sort"

	"github.com/wilsonlabs/formulaengine/internal/shareddoc"
	"github.com/wilsonlabs/formulaengine/pkg/store"
)

// GetVersion returns (nil, nil) for any record that is not yet complete
// rather than treating that as an error, and returns an error only when
// a complete record fails schema validation.
func (s *Store) GetVersion(ctx context.Context, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	versions, _, err := s.roots()
	if err != nil {
		return nil, err
	}
	recVal, ok := versions.Get(id)
	if !ok {
		return nil, nil
	}
	recMap, ok := recVal.(*shareddoc.Map)
	if !ok {
		return nil, nil
	}
	return decodeRecord(recMap)
}

// decodeRecord applies the completeness check and, only once a record
// is complete, schema validation.
func decodeRecord(m *shareddoc.Map) (*store.Record, error) {
	complete, _ := m.Get("snapshotComplete")
	if b, ok := complete.(bool); !ok || !b {
		return nil, nil
	}

	encodingVal, _ := m.Get("snapshotEncoding")
	encoding, _ := encodingVal.(string)

	var raw []byte
	switch encoding {
	case "chunks":
		expectedVal, _ := m.Get("snapshotChunkCountExpected")
		expected, _ := expectedVal.(int)
		chunksVal, ok := m.Get("snapshotChunks")
		if !ok {
			return nil, nil
		}
		chunksArr, ok := chunksVal.(*shareddoc.Array)
		if !ok || chunksArr.Len() < expected {
			return nil, nil
		}
		for _, c := range chunksArr.Values() {
			b, ok := c.([]byte)
			if !ok {
				return nil, nil
			}
			raw = append(raw, b...)
		}
	case "base64":
		b64Val, ok := m.Get("snapshotBase64")
		if !ok {
			return nil, nil
		}
		b64, ok := b64Val.(string)
		if !ok {
			return nil, nil
		}
		decoded, err := base64ToBytes(b64)
		if err != nil {
			return nil, nil
		}
		raw = decoded
	default:
		return nil, nil
	}

	schemaVal, _ := m.Get("schemaVersion")
	schema, ok := schemaVal.(int)
	if !ok || schema != 1 {
		return nil, fmt.Errorf("rdoc: unsupported schemaVersion %v", schemaVal)
	}

	kindVal, _ := m.Get("kind")
	kind, _ := kindVal.(string)
	switch store.Kind(kind) {
	case store.KindSnapshot, store.KindCheckpoint, store.KindRestore:
	default:
		return nil, fmt.Errorf("rdoc: invalid kind %q", kind)
	}

	tsVal, _ := m.Get("timestampMs")
	ts, ok := tsVal.(int64)
	if !ok {
		return nil, fmt.Errorf("rdoc: timestampMs is not numeric")
	}

	compressionVal, _ := m.Get("compression")
	compression, _ := compressionVal.(string)
	snapshot := raw
	if compression == "gzip" {
		decompressed, err := gzipDecompress(raw)
		if err != nil {
			return nil, fmt.Errorf("rdoc: decompress snapshot: %w", err)
		}
		snapshot = decompressed
	}

	idVal, _ := m.Get("id")
	id, _ := idVal.(string)
	descVal, _ := m.Get("description")
	desc, _ := descVal.(string)

	rec := &store.Record{
		ID:          id,
		Kind:        store.Kind(kind),
		TimestampMs: ts,
		Description: desc,
		Snapshot:    snapshot,
	}
	if createdVal, ok := m.Get("createdAtMs"); ok {
		if created, ok := createdVal.(int64); ok {
			rec.CreatedAtMs = &created
		}
	}
	if authorVal, ok := m.Get("author"); ok {
		if authorMap, ok := authorVal.(*shareddoc.Map); ok {
			author := &store.Author{}
			if v, ok := authorMap.Get("userId"); ok {
				author.UserID, _ = v.(string)
			}
			if v, ok := authorMap.Get("userName"); ok {
				author.UserName, _ = v.(string)
			}
			rec.Author = author
		}
	}
	if cpVal, ok := m.Get("checkpoint"); ok {
		if cpMap, ok := cpVal.(*shareddoc.Map); ok {
			cp := &store.Checkpoint{}
			if v, ok := cpMap.Get("name"); ok {
				cp.Name, _ = v.(string)
			}
			if v, ok := cpMap.Get("locked"); ok {
				cp.Locked, _ = v.(bool)
			}
			if annVal, ok := cpMap.Get("annotations"); ok {
				if annMap, ok := annVal.(*shareddoc.Map); ok {
					ann := make(map[string]string)
					for _, k := range annMap.Keys() {
						if v, ok := annMap.Get(k); ok {
							if s, ok := v.(string); ok {
								ann[k] = s
							}
						}
					}
					cp.Annotations = ann
				}
			}
			rec.Checkpoint = cp
		}
	}
	return rec, nil
}

// ListVersions opportunistically prunes incomplete records using the
// default staleness policy, then collects and sorts every readable
// record by timestamp descending, tie-broken by insertion order
// descending then id descending.
func (s *Store) ListVersions(ctx context.Context) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.pruneIncompleteVersions(defaultPruneOlderThanMs); err != nil {
		return nil, err
	}

	versions, versionsMeta, err := s.roots()
	if err != nil {
		return nil, err
	}
	orderIndex := make(map[string]int)
	if orderVal, ok := versionsMeta.Get("order"); ok {
		if order, ok := orderVal.(*shareddoc.Array); ok {
			for i, v := range order.Values() {
				if id, ok := v.(string); ok {
					orderIndex[id] = i
				}
			}
		}
	}

	var out []store.Record
	for _, id := range versions.Keys() {
		rec, err := s.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, *rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TimestampMs != b.TimestampMs {
			return a.TimestampMs > b.TimestampMs
		}
		if orderIndex[a.ID] != orderIndex[b.ID] {
			return orderIndex[a.ID] > orderIndex[b.ID]
		}
		return a.ID > b.ID
	})
	return out, nil
}
