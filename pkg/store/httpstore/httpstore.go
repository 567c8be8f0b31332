// Package httpstore implements a store.Store as a thin REST client
// against a remote version-history service. Request bodies above a size
// threshold are lz4-compressed.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pierrec/lz4"

	"github.com/wilsonlabs/formulaengine/pkg/store"
)

const lz4Threshold = 8 * 1024

// wireRecord is the JSON body shape exchanged with the remote service.
type wireRecord struct {
	ID          string            `json:"id"`
	Kind        store.Kind        `json:"kind"`
	TimestampMs int64             `json:"timestampMs"`
	CreatedAtMs *int64            `json:"createdAtMs,omitempty"`
	Author      *store.Author     `json:"author,omitempty"`
	Description string            `json:"description,omitempty"`
	Checkpoint  *store.Checkpoint `json:"checkpoint,omitempty"`
	Snapshot    []byte            `json:"snapshot"`
}

// Store is a REST client satisfying store.Store against a server
// exposing GET/POST/PATCH/DELETE on /versions[...].
type Store struct {
	baseURL string
	client  *http.Client
}

var _ store.Store = (*Store)(nil)

// New returns a Store targeting baseURL (e.g. "https://host/api"). If
// client is nil, http.DefaultClient is used.
func New(baseURL string, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// SaveVersion issues POST /versions.
func (s *Store) SaveVersion(ctx context.Context, rec store.Record) error {
	body, encoding, err := encodeBody(toWire(rec))
	if err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/versions", body, encoding)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: save %q: %w", rec.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpError("save", rec.ID, resp)
	}
	return nil
}

// GetVersion issues GET /versions/{id}, returning (nil, nil) on 404.
func (s *Store) GetVersion(ctx context.Context, id string) (*store.Record, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/versions/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpstore: get %q: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, httpError("get", id, resp)
	}
	var wire wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("httpstore: decode %q: %w", id, err)
	}
	rec := fromWire(wire)
	return &rec, nil
}

// ListVersions issues GET /versions, expecting the server to already
// return results sorted by timestamp descending, tie-broken by
// insertion order descending then id descending.
func (s *Store) ListVersions(ctx context.Context) ([]store.Record, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/versions", nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpstore: list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, httpError("list", "", resp)
	}
	var wire []wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("httpstore: decode list: %w", err)
	}
	out := make([]store.Record, len(wire))
	for i, w := range wire {
		out[i] = fromWire(w)
	}
	return out, nil
}

// updatePayload is the PATCH /versions/{id} body.
type updatePayload struct {
	CheckpointLocked *bool `json:"checkpointLocked,omitempty"`
}

// UpdateVersion issues PATCH /versions/{id}, translating a 404 into
// store.ErrNotFound.
func (s *Store) UpdateVersion(ctx context.Context, id string, fields store.UpdateFields) error {
	body, err := json.Marshal(updatePayload{CheckpointLocked: fields.CheckpointLocked})
	if err != nil {
		return fmt.Errorf("httpstore: marshal update for %q: %w", id, err)
	}
	req, err := s.newRequest(ctx, http.MethodPatch, "/versions/"+url.PathEscape(id), body, "")
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: update %q: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return store.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return httpError("update", id, resp)
	}
	return nil
}

// DeleteVersion issues DELETE /versions/{id}. A 404 response is treated
// as success (idempotent delete).
func (s *Store) DeleteVersion(ctx context.Context, id string) error {
	req, err := s.newRequest(ctx, http.MethodDelete, "/versions/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpstore: delete %q: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return httpError("delete", id, resp)
	}
	return nil
}

func (s *Store) newRequest(ctx context.Context, method, path string, body []byte, contentEncoding string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("httpstore: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if contentEncoding != "" {
			req.Header.Set("Content-Encoding", contentEncoding)
		}
	}
	return req, nil
}

// encodeBody marshals v to JSON and lz4-compresses it when it clears
// lz4Threshold, returning the content-encoding header value to send
// alongside it.
func encodeBody(v any) ([]byte, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("httpstore: marshal body: %w", err)
	}
	if len(raw) < lz4Threshold {
		return raw, "", nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, "", fmt.Errorf("httpstore: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("httpstore: lz4 flush: %w", err)
	}
	return buf.Bytes(), "lz4", nil
}

func httpError(op, id string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if id != "" {
		return fmt.Errorf("httpstore: %s %q: unexpected status %d: %s", op, id, resp.StatusCode, b)
	}
	return fmt.Errorf("httpstore: %s: unexpected status %d: %s", op, resp.StatusCode, b)
}

func toWire(rec store.Record) wireRecord {
	return wireRecord{
		ID: rec.ID, Kind: rec.Kind, TimestampMs: rec.TimestampMs, CreatedAtMs: rec.CreatedAtMs,
		Author: rec.Author, Description: rec.Description, Checkpoint: rec.Checkpoint, Snapshot: rec.Snapshot,
	}
}

func fromWire(w wireRecord) store.Record {
	return store.Record{
		ID: w.ID, Kind: w.Kind, TimestampMs: w.TimestampMs, CreatedAtMs: w.CreatedAtMs,
		Author: w.Author, Description: w.Description, Checkpoint: w.Checkpoint, Snapshot: w.Snapshot,
	}
}
