package shareddoc

import "testing"

func TestRootCreatesOnFirstAccess(t *testing.T) {
	doc := NewDocument()
	m, err := Root(doc, "versions")
	if err != nil {
		t.Fatal(err)
	}
	m.Set("a", "1")
	m2, err := Root(doc, "versions")
	if err != nil {
		t.Fatal(err)
	}
	if m2 != m {
		t.Fatal("expected the same Map instance on repeated Root calls")
	}
	if v, ok := m2.Get("a"); !ok || v != "1" {
		t.Fatalf("got %v, %v", v, ok)
	}
}

func TestRootRewrapsForeignMap(t *testing.T) {
	docA := NewDocument()
	foreign, err := Root(docA, "versions")
	if err != nil {
		t.Fatal(err)
	}
	foreign.Set("x", "y")

	docB := NewDocument()
	docB.roots["versions"] = foreign // simulate a root built by a different Document

	local, err := Root(docB, "versions")
	if err != nil {
		t.Fatal(err)
	}
	if local == foreign {
		t.Fatal("expected a rewrapped local Map, not the foreign instance")
	}
	if v, ok := local.Get("x"); !ok || v != "y" {
		t.Fatalf("expected rewrap to copy entries, got %v, %v", v, ok)
	}
}

func TestArrayOrderingAndDeletion(t *testing.T) {
	doc := NewDocument()
	arr := newArray(doc)
	arr.Push("a")
	arr.Push("b")
	arr.Push("c")

	got := arr.Values()
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	ok := arr.DeleteValue(func(v any) bool { return v == "b" })
	if !ok {
		t.Fatal("expected deletion of b to succeed")
	}
	if arr.Len() != 2 {
		t.Fatalf("got len %d, want 2", arr.Len())
	}
}

func TestTransactWritesAreVisibleAfterCommit(t *testing.T) {
	doc := NewDocument()
	m, err := Root(doc, "versionsMeta")
	if err != nil {
		t.Fatal(err)
	}
	doc.Transact(func(tx *Tx) {
		order := m.NewNestedArray()
		order.Push("v1")
		m.Set("order", order)
	})

	m2, _ := Root(doc, "versionsMeta")
	orderVal, ok := m2.Get("order")
	if !ok {
		t.Fatal("expected order key to be set")
	}
	order := orderVal.(*Array)
	if order.Len() != 1 {
		t.Fatalf("got len %d, want 1", order.Len())
	}
}
