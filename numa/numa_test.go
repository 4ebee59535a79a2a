package numa

import (
	"testing"

	"memmap/buddy"
)

func TestFlat(t *testing.T) {
	f := Flat{}
	if f.NumNodes() != 1 {
		t.Fatalf("NumNodes: got %d, want 1", f.NumNodes())
	}
	if f.MPNToNode(1234) != 0 {
		t.Fatal("Flat should attribute every MPN to node 0")
	}
	got := f.MemRangeIntersection(0, buddy.Range{Start: 0, End: 10})
	if len(got) != 1 || got[0].Start != 0 || got[0].End != 10 {
		t.Fatalf("unexpected intersection: %v", got)
	}
	if got := f.MemRangeIntersection(1, buddy.Range{Start: 0, End: 10}); got != nil {
		t.Fatalf("node 1 should own nothing in a flat topology, got %v", got)
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable(2)
	tbl.Add(0, 0, 99)
	tbl.Add(1, 100, 199)

	if n := tbl.MPNToNode(50); n != 0 {
		t.Fatalf("MPNToNode(50): got %d, want 0", n)
	}
	if n := tbl.MPNToNode(150); n != 1 {
		t.Fatalf("MPNToNode(150): got %d, want 1", n)
	}
	if n := tbl.MPNToNode(10000); n != -1 {
		t.Fatalf("MPNToNode(out of range): got %d, want -1", n)
	}

	got := tbl.MemRangeIntersection(0, buddy.Range{Start: 50, End: 150})
	if len(got) != 1 || got[0].Start != 50 || got[0].End != 99 {
		t.Fatalf("unexpected intersection for node 0: %v", got)
	}
	got = tbl.MemRangeIntersection(1, buddy.Range{Start: 50, End: 150})
	if len(got) != 1 || got[0].Start != 100 || got[0].End != 150 {
		t.Fatalf("unexpected intersection for node 1: %v", got)
	}
}
