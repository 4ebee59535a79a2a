package memmap

import (
	"testing"

	"memmap/buddy"
)

func TestAvailRangeRemoveTail(t *testing.T) {
	a := &availRange{ranges: []buddy.Range{{Start: 0, End: 9}}}
	r, ok := a.removeTail(3)
	if !ok {
		t.Fatal("removeTail should succeed")
	}
	if r.Start != 7 || r.End != 9 {
		t.Fatalf("got %+v, want [7,9]", r)
	}
	if a.totalPages() != 7 {
		t.Fatalf("remaining pages: got %d, want 7", a.totalPages())
	}
}

func TestAvailRangeRemoveTailWholeRange(t *testing.T) {
	a := &availRange{ranges: []buddy.Range{{Start: 0, End: 2}}}
	r, ok := a.removeTail(3)
	if !ok || r.Start != 0 || r.End != 2 {
		t.Fatalf("got %+v, %v", r, ok)
	}
	if len(a.ranges) != 0 {
		t.Fatalf("range list should be empty, got %v", a.ranges)
	}
}

func TestAvailRangeRemoveAligned(t *testing.T) {
	const align = 512
	a := &availRange{ranges: []buddy.Range{{Start: 0, End: 2047}}}
	r, ok := a.removeAligned(align, align)
	if !ok {
		t.Fatal("removeAligned should succeed")
	}
	if r.Start%align != 0 {
		t.Fatalf("removed range %+v is not aligned to %d", r, align)
	}
	if r.Len() != align {
		t.Fatalf("removed range length: got %d, want %d", r.Len(), align)
	}
	if a.totalPages() != 2048-align {
		t.Fatalf("remaining pages: got %d, want %d", a.totalPages(), 2048-align)
	}
}

func TestAvailRangeRemoveHead(t *testing.T) {
	a := &availRange{ranges: []buddy.Range{{Start: 0, End: 4}}}
	mpn, ok := a.removeHead(func(m MPN) bool { return m == 2 })
	if !ok || mpn != 2 {
		t.Fatalf("got %d, %v", mpn, ok)
	}
	if a.totalPages() != 4 {
		t.Fatalf("remaining pages: got %d, want 4", a.totalPages())
	}
	// the middle removal should have split the range in two.
	if len(a.ranges) != 2 {
		t.Fatalf("expected a split into two ranges, got %v", a.ranges)
	}
}

func TestLog2(t *testing.T) {
	cases := map[uint32]uint{1: 0, 2: 1, 4: 2, 64: 6}
	for n, want := range cases {
		if got := log2(n); got != want {
			t.Fatalf("log2(%d): got %d, want %d", n, got, want)
		}
	}
}

func TestLog2PanicsOnNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected log2(3) to panic")
		}
	}()
	log2(3)
}

func TestIsLow(t *testing.T) {
	fourGBPages := MPN((uint64(1) << 32) / 4096)
	if !IsLow(fourGBPages-1, 4096) {
		t.Fatal("the last page below 4GB should be low")
	}
	if IsLow(fourGBPages, 4096) {
		t.Fatal("the page at exactly 4GB should not be low")
	}
}
