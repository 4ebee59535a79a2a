package buddy

import "testing"

func TestFakeCreateAndAllocate(t *testing.T) {
	f := NewFake()
	h, err := f.Create(DynRangeInfo{MinMPN: 0, MaxMPN: 15, NumColors: 4}, 0, nil, []Range{{Start: 0, End: 15}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	mpn, ok := f.AllocateColor(h, 1, 2, CallerCtx{})
	if !ok {
		t.Fatal("expected an allocation to succeed")
	}
	if mpn%4 != 2 {
		t.Fatalf("mpn %d does not have the requested color 2", mpn)
	}
	if n := f.GetLocSize(h, mpn); n != 1 {
		t.Fatalf("GetLocSize: got %d, want 1", n)
	}

	f.Free(h, mpn)
	if n := f.GetLocSize(h, mpn); n != 0 {
		t.Fatalf("GetLocSize after free: got %d, want 0", n)
	}
}

func TestFakeExhaustion(t *testing.T) {
	f := NewFake()
	h, _ := f.Create(DynRangeInfo{MinMPN: 0, MaxMPN: 1, NumColors: 1}, 0, nil, []Range{{Start: 0, End: 0}})

	if _, ok := f.AllocateColor(h, 1, 0, CallerCtx{}); !ok {
		t.Fatal("first allocation should succeed")
	}
	if _, ok := f.AllocateColor(h, 1, 0, CallerCtx{}); ok {
		t.Fatal("second allocation should fail: only one page exists")
	}
}

func TestFakeHotAddRange(t *testing.T) {
	f := NewFake()
	h, _ := f.Create(DynRangeInfo{MinMPN: 0, MaxMPN: 0, NumColors: 1}, 0, nil, []Range{{Start: 0, End: 0}})
	if err := f.HotAddRange(h, 0, nil, Range{Start: 10, End: 10}); err != nil {
		t.Fatalf("HotAddRange: %v", err)
	}
	if n := f.NumFreeForColor(h, 0); n != 2 {
		t.Fatalf("NumFreeForColor: got %d, want 2", n)
	}
}

func TestFakeBadHandle(t *testing.T) {
	f := NewFake()
	if _, ok := f.AllocateColor(Handle(99), 1, 0, CallerCtx{}); ok {
		t.Fatal("expected allocation against a bad handle to fail")
	}
}

func TestRangeLen(t *testing.T) {
	r := Range{Start: 5, End: 9}
	if r.Len() != 5 {
		t.Fatalf("Len: got %d, want 5", r.Len())
	}
	if (Range{Start: 5, End: 4}).Len() != 0 {
		t.Fatal("an inverted range should report zero length")
	}
}
