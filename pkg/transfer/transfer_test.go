package transfer

import "testing"

func TestExtractFullBufferReused(t *testing.T) {
	buf := make([]byte, 8)
	out := Extract(buf)
	if &out[0] != &buf[0] {
		t.Error("expected full-capacity buffer to be reused, not copied")
	}
}

func TestExtractSubViewIsCopiedAndBounded(t *testing.T) {
	backing := make([]byte, 64)
	for i := range backing {
		backing[i] = byte(i)
	}
	view := backing[10:20] // len 10, cap 54 -- a live sub-range
	out := Extract(view)

	if len(out) != 10 {
		t.Fatalf("len(out) = %d, want 10", len(out))
	}
	if cap(out) != len(out) {
		t.Errorf("expected right-sized copy, cap=%d len=%d", cap(out), len(out))
	}
	if &out[0] == &backing[10] {
		t.Error("expected a fresh copy, not a view into the original backing array")
	}
	for i, b := range out {
		if b != backing[10+i] {
			t.Errorf("out[%d] = %d, want %d", i, b, backing[10+i])
		}
	}
}

func TestExtractNeverExposesTrailingCapacity(t *testing.T) {
	backing := make([]byte, 16)
	view := backing[:4] // cap 16, len 4 -- unrelated data follows in backing
	out := Extract(view)
	if cap(out) != 4 {
		t.Fatalf("Extract leaked trailing capacity: cap=%d", cap(out))
	}
}
