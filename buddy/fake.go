package buddy

import "sync"

// Fake is an in-memory reference Buddy used by this repo's own tests (spec
// §1 explicitly puts the real buddy out of scope, so something has to stand
// in for it to exercise C3/C4/C5/C7/C8 end to end). It does not implement
// real buddy-of-two-powers splitting; it tracks free/allocated pages
// directly, which is sufficient to verify every invariant in spec §8 without
// pretending to be a production allocator.
type Fake struct {
	mu     sync.Mutex
	spaces []*fakeSpace
}

type fakeSpace struct {
	numColors uint32
	free      map[uint64]bool
	allocated map[uint64]uint32 // start mpn -> num pages
}

// NewFake returns an empty Fake buddy library.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) MetadataBytes(numPages uint64) uint64 {
	// One bit per page, rounded to a byte, plus a small fixed header —
	// enough to give the pool builder a nonzero, size-proportional
	// overhead to carve out and map.
	return numPages/8 + 64
}

func (f *Fake) Create(info DynRangeInfo, metadataBytes uint64, metadataBuffer []byte, ranges []Range) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := &fakeSpace{
		numColors: info.NumColors,
		free:      make(map[uint64]bool),
		allocated: make(map[uint64]uint32),
	}
	for _, r := range ranges {
		for mpn := r.Start; mpn <= r.End; mpn++ {
			sp.free[mpn] = true
		}
	}
	f.spaces = append(f.spaces, sp)
	return Handle(len(f.spaces)), nil
}

func (f *Fake) space(h Handle) *fakeSpace {
	idx := int(h) - 1
	if idx < 0 || idx >= len(f.spaces) {
		return nil
	}
	return f.spaces[idx]
}

func (f *Fake) HotAddRange(h Handle, metadataBytes uint64, metadataBuffer []byte, r Range) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil {
		return errBadHandle
	}
	for mpn := r.Start; mpn <= r.End; mpn++ {
		sp.free[mpn] = true
	}
	return nil
}

func (f *Fake) AllocateColor(h Handle, numPages uint32, color uint32, ctx CallerCtx) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil || numPages == 0 {
		return 0, false
	}
	for mpn := range sp.free {
		if sp.numColors != 0 && mpn%uint64(sp.numColors) != uint64(color) {
			continue
		}
		if f.tryReserve(sp, mpn, numPages) {
			return mpn, true
		}
	}
	return 0, false
}

// tryReserve checks that [mpn, mpn+numPages) is entirely free and, if so,
// removes it from the free set and records the allocation.
func (f *Fake) tryReserve(sp *fakeSpace, mpn uint64, numPages uint32) bool {
	for i := uint64(0); i < uint64(numPages); i++ {
		if !sp.free[mpn+i] {
			return false
		}
	}
	for i := uint64(0); i < uint64(numPages); i++ {
		delete(sp.free, mpn+i)
	}
	sp.allocated[mpn] = numPages
	return true
}

func (f *Fake) AllocateRange(h Handle, startHint uint64) (uint64, uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil {
		return 0, 0, false
	}
	const maxRun = 8
	// take the contiguous free run starting at the hint, capped at maxRun
	// pages; if the hint page is not free, take the run starting at
	// whichever free page the map iteration yields first.
	best := func(start uint64) uint32 {
		var n uint32
		for sp.free[start+uint64(n)] && n < maxRun {
			n++
		}
		return n
	}
	if n := best(startHint); n > 0 {
		mpn := startHint
		for i := uint64(0); i < uint64(n); i++ {
			delete(sp.free, mpn+i)
		}
		sp.allocated[mpn] = n
		return mpn, n, true
	}
	for mpn := range sp.free {
		if n := best(mpn); n > 0 {
			for i := uint64(0); i < uint64(n); i++ {
				delete(sp.free, mpn+i)
			}
			sp.allocated[mpn] = n
			return mpn, n, true
		}
	}
	return 0, 0, false
}

func (f *Fake) Free(h Handle, mpn uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil {
		return
	}
	n, ok := sp.allocated[mpn]
	if !ok {
		return
	}
	delete(sp.allocated, mpn)
	for i := uint64(0); i < uint64(n); i++ {
		sp.free[mpn+i] = true
	}
}

func (f *Fake) GetLocSize(h Handle, mpn uint64) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil {
		return 0
	}
	return sp.allocated[mpn]
}

func (f *Fake) NumFreeForColor(h Handle, color uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	sp := f.space(h)
	if sp == nil {
		return 0
	}
	var n uint32
	for mpn := range sp.free {
		if sp.numColors == 0 || mpn%uint64(sp.numColors) == uint64(color) {
			n++
		}
	}
	return n
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errBadHandle = fakeErr("buddy: bad handle")
