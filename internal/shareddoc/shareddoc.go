// Package shareddoc implements the minimal replicated-document primitive
// pkg/store/rdoc is built on: named Map and Array roots, grouped into
// atomic multi-write transactions. No external CRDT dependency is
// assumed, so this is a from-scratch implementation following a familiar
// concurrency idiom: a single mutex guarding shared state per root.
package shareddoc

import (
	"fmt"
	"sync"

	"github.com/twmb/go-rbtree"
)

// Document owns a set of named roots and serializes every mutation behind
// one transaction at a time.
type Document struct {
	mu    sync.Mutex
	roots map[string]any
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{roots: make(map[string]any)}
}

// Transact runs fn holding the document's lock, so every Map/Array
// mutation fn performs is atomic with respect to other Transact calls.
// Multi-step saves (an initial transaction, one or more append
// transactions, a final completion transaction) compose from a sequence
// of Transact calls.
func (d *Document) Transact(fn func(tx *Tx)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&Tx{doc: d})
}

// Tx is the mutation handle passed to a Transact callback.
type Tx struct{ doc *Document }

// Root normalizes access to a named root: if name has no entry,
// create a Map via the local constructor and install it; if it is already
// a *Map owned by this document, reuse it; if it is owned by a different
// *Document (e.g. loaded from a foreign snapshot before being attached
// here), rewrap — allocate a new local Map, copy over its entries,
// reparent every child, install the new Map in this document's
// root table, and return it. A foreign root is never returned or mutated
// directly. Root takes the document lock, which Transact already holds,
// so calling it from inside a Transact callback deadlocks.
func Root(doc *Document, name string) (*Map, error) {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	existing, ok := doc.roots[name]
	if !ok {
		m := newMap(doc)
		doc.roots[name] = m
		return m, nil
	}

	m, ok := existing.(*Map)
	if !ok {
		return nil, fmt.Errorf("shareddoc: root %q exists but is not a Map", name)
	}
	if m.owner == doc {
		return m, nil
	}

	// Foreign root: rewrap into a Map owned by this Document.
	rewrapped := newMap(doc)
	m.mu.Lock()
	for k, v := range m.entries {
		rewrapped.entries[k] = reparent(v, doc)
	}
	m.mu.Unlock()
	doc.roots[name] = rewrapped
	return rewrapped, nil
}

// reparent walks a value that may itself be a *Map or *Array owned by a
// foreign Document and returns an equivalent value owned by doc. Scalars
// pass through unchanged.
func reparent(v any, doc *Document) any {
	switch t := v.(type) {
	case *Map:
		if t.owner == doc {
			return t
		}
		m := newMap(doc)
		t.mu.Lock()
		for k, cv := range t.entries {
			m.entries[k] = reparent(cv, doc)
		}
		t.mu.Unlock()
		return m
	case *Array:
		if t.owner == doc {
			return t
		}
		a := newArray(doc)
		for _, cv := range t.Values() {
			a.Push(reparent(cv, doc))
		}
		return a
	default:
		return v
	}
}

// Map is a replicated key/value map root or nested value.
type Map struct {
	owner   *Document
	mu      sync.Mutex
	entries map[string]any
}

func newMap(owner *Document) *Map {
	return &Map{owner: owner, entries: make(map[string]any)}
}

// Set stores value under key. Must be called from within a Transact
// callback (or any context already holding doc.mu) to preserve atomicity;
// Map itself only guards against concurrent non-transactional access.
func (m *Map) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// Get returns the value at key and whether it was present.
func (m *Map) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

// Delete removes key.
func (m *Map) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Keys returns every key currently present, in no particular order.
func (m *Map) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}

// NewNestedMap allocates a Map owned by the same document as m, suitable
// for installing as a value under one of m's keys.
func (m *Map) NewNestedMap() *Map { return newMap(m.owner) }

// NewNestedArray allocates an Array owned by the same document as m.
func (m *Map) NewNestedArray() *Array { return newArray(m.owner) }

// arrayItem is the rbtree.Item wrapping one Array element, ordered by a
// monotonically increasing sequence position. Positions are integers
// rather than fractional CRDT positions since this document has a single
// writer per transaction — callers only need an ordered append/delete
// sequence, never concurrent-insert reordering.
type arrayItem struct {
	seq int64
	val any
}

func (a *arrayItem) Less(than rbtree.Item) bool {
	return a.seq < than.(*arrayItem).seq
}

// Array is a replicated ordered sequence root or nested value, backed by
// an rbtree so Values()/Len() stay ordered under concurrent Push/Delete
// without re-sorting a slice on every read.
type Array struct {
	owner  *Document
	mu     sync.Mutex
	tree   rbtree.Tree
	nextSeq int64
	length int
}

func newArray(owner *Document) *Array {
	return &Array{owner: owner}
}

// Push appends value to the end of the sequence.
func (a *Array) Push(value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tree.Insert(&arrayItem{seq: a.nextSeq, val: value})
	a.nextSeq++
	a.length++
}

// Values returns every element in sequence order.
func (a *Array) Values() []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]any, 0, a.length)
	for n := a.tree.Min(); n != nil; n = n.Next() {
		out = append(out, n.Item.(*arrayItem).val)
	}
	return out
}

// Len returns the number of elements.
func (a *Array) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length
}

// DeleteValue removes the first element equal to value per eq, scanning
// tail to head — the order pkg/store/rdoc needs to delete all prior
// occurrences of an id during pruning.
func (a *Array) DeleteValue(eq func(any) bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	var toDelete *rbtree.Node
	for n := a.tree.Max(); n != nil; n = n.Prev() {
		if eq(n.Item.(*arrayItem).val) {
			toDelete = n
			break
		}
	}
	if toDelete == nil {
		return false
	}
	a.tree.Delete(toDelete)
	a.length--
	return true
}

// DeleteAllValues removes every element matching eq, tail to head, and
// reports how many were removed.
func (a *Array) DeleteAllValues(eq func(any) bool) int {
	count := 0
	for a.DeleteValue(eq) {
		count++
	}
	return count
}
