// Package buddy defines the contract the physical-page buddy subsystem must
// satisfy (spec §6). The buddy itself is explicitly out of scope (spec §1,
// "consumed via a small interface") — this package is that interface, plus
// the small value types the MemMap and the buddy pass back and forth.
package buddy

// Range is an inclusive [Start, End] run of machine page numbers, matching
// the BIOS/NUMA range convention used throughout spec §4.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of pages the range covers.
func (r Range) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// DynRangeInfo bounds the machine-page-number space a buddy instance will
// ever be asked to manage, so it can size its color/order tables once at
// Create time instead of on every HotAddRange.
type DynRangeInfo struct {
	MinMPN    uint64
	MaxMPN    uint64
	NumColors uint32
}

// CallerCtx carries the minimal identifying context the buddy may want on
// an allocation failure path (e.g. to attribute the miss in its own
// counters). Nil World means a kernel/overhead allocation.
type CallerCtx struct {
	WorldID int
	HasPPN  bool
	PPN     uint64
}

// Handle identifies one (node, zone) buddy instance. Handles are opaque and
// allocated by Create; zero is never a valid handle.
type Handle uint32

// Buddy is the external sub-allocator contract (spec §6). One Buddy value
// serves every (node, zone) memspace in the system, dispatched by Handle —
// this mirrors the C original's single buddy library instantiated per
// memspace, kept as a single interface rather than one object per node so
// the pool builder can treat "which buddy" as data, not a vtable switch.
type Buddy interface {
	// MetadataBytes reports how many bytes of metadata the buddy needs to
	// manage numPages additional pages. The pool builder rounds this up
	// to whole pages itself.
	MetadataBytes(numPages uint64) uint64

	// Create constructs a new (node, zone) memspace covering the given
	// ranges, backed by metadataBuffer (mapped kernel VA, metadataBytes
	// long). It is called once per (node, zone); later ranges for the
	// same memspace go through HotAddRange.
	Create(info DynRangeInfo, metadataBytes uint64, metadataBuffer []byte, ranges []Range) (Handle, error)

	// HotAddRange incorporates an additional range into an
	// already-created memspace.
	HotAddRange(h Handle, metadataBytes uint64, metadataBuffer []byte, r Range) error

	// AllocateColor pulls a numPages-page, power-of-two-sized block of
	// the given color out of h. ok is false on exhaustion, never an
	// error — running out of a color is an expected, retried outcome.
	AllocateColor(h Handle, numPages uint32, color uint32, ctx CallerCtx) (mpn uint64, ok bool)

	// AllocateRange allocates whatever contiguous block the buddy can
	// serve around startHint, used by the diagnostic/bulk
	// alloc_page_range API.
	AllocateRange(h Handle, startHint uint64) (mpn uint64, numPages uint32, ok bool)

	// Free releases the block beginning at mpn.
	Free(h Handle, mpn uint64)

	// GetLocSize reports the size, in pages, of the block allocated at
	// mpn, or 0 if mpn is not a live allocation's start.
	GetLocSize(h Handle, mpn uint64) uint32

	// NumFreeForColor reports how many pages of the given color remain
	// free in h.
	NumFreeForColor(h Handle, color uint32) uint32
}
