// Package memmap is the physical page allocator of a bare-metal hypervisor
// kernel (spec §1). It owns every machine page not statically reserved at
// boot and services page-granularity allocations for the kernel, for guest
// VMs, and for user-mode worlds.
package memmap

import (
	"memmap/buddy"
	"memmap/config"
)

// MPN is a machine page number: a physical address divided by PageSize.
type MPN uint64

// Color is MPN mod NumColors; two MPNs of the same color map to the same
// cache set (spec GLOSSARY).
type Color uint32

// AnyColor is the "caller does not care" sentinel for Color-typed request
// fields.
const AnyColor Color = 1<<32 - 1

// NodeID indexes the NUMA-locality partition array. This repo bounds the
// system to 64 nodes so the node-availability bitmasks (valid_nodes,
// free_low_nodes, free_high_nodes, free_reserved_nodes — spec §3) fit a
// single uint64, the same width the teacher uses for its own per-CPU and
// per-page bitmasks (biscuit's Physpg_t.Cpumask).
type NodeID int

const MaxNodes = 64

// Zone partitions MPNs into Low (< 4GB) and High (>= 4GB); LowReserved and
// Any are request-time qualifiers layered on top (spec GLOSSARY, §4.4).
type Zone int

const (
	AnyZone Zone = iota
	Low
	High
	LowReserved
)

func (z Zone) String() string {
	switch z {
	case Low:
		return "low"
	case High:
		return "high"
	case LowReserved:
		return "low-reserved"
	case AnyZone:
		return "any"
	default:
		return "invalid-zone"
	}
}

// IsLow reports whether mpn falls below the 4GB boundary.
func IsLow(mpn MPN, pageSize int) bool {
	return uint64(mpn) < config.FourGB/uint64(pageSize)
}

// state is the boot/steady-state dispatch value the design notes ask for
// (§9 "early-boot vs. steady-state dispatch"), replacing a runtime
// in_early_init boolean with an exhaustively-checked enum.
type state int

const (
	stateUninit state = iota
	stateEarly
	stateReady
	stateHotAdding
)

// Node is one NUMA node's worth of pages (spec §3).
type Node struct {
	ID NodeID

	TotalPages    uint64
	TotalLowPages uint64
	ReservedLow   uint64

	// live counters, protected by Context.mu
	FreePages    uint64
	FreeLowPages uint64
	KernelPages  uint64

	// BuddyLow/BuddyHigh are handles into the external buddy library.
	// hasLow/hasHigh are false when the node contains no pages of that
	// zone at all (spec §3: "either may be absent").
	BuddyLow  buddy.Handle
	hasLow    bool
	BuddyHigh buddy.Handle
	hasHigh   bool
}

// availRange is the transient per-node range list C1 produces, C2 trims
// from the tail of, and C3 consumes (spec §3 NodeAvailRange).
type availRange struct {
	ranges []buddy.Range
}

func (a *availRange) totalPages() uint64 {
	var n uint64
	for _, r := range a.ranges {
		n += r.Len()
	}
	return n
}

// removeTail removes n pages from the end of the last range that has at
// least n pages, used by critical reservation (spec §4.2) and by the
// no-2MB-alignment reservation path. It returns the removed range.
func (a *availRange) removeTail(n uint64) (buddy.Range, bool) {
	for i := len(a.ranges) - 1; i >= 0; i-- {
		r := a.ranges[i]
		if r.Len() < n {
			continue
		}
		removed := buddy.Range{Start: r.End - n + 1, End: r.End}
		if r.Len() == n {
			a.ranges = append(a.ranges[:i], a.ranges[i+1:]...)
		} else {
			a.ranges[i] = buddy.Range{Start: r.Start, End: r.End - n}
		}
		return removed, true
	}
	return buddy.Range{}, false
}

// removeAligned removes an n-page, 2MB-aligned run from the tail of the
// last range that can supply one, splitting the range into up to two
// surviving pieces (spec §4.2 "2MB alignment").
func (a *availRange) removeAligned(n, alignPages uint64) (buddy.Range, bool) {
	for i := len(a.ranges) - 1; i >= 0; i-- {
		r := a.ranges[i]
		if r.Len() < n {
			continue
		}
		cand := roundDown(r.End-n+1, alignPages)
		if cand < r.Start || cand+n-1 > r.End {
			continue
		}
		removed := buddy.Range{Start: cand, End: cand + n - 1}
		var pieces []buddy.Range
		if cand > r.Start {
			pieces = append(pieces, buddy.Range{Start: r.Start, End: cand - 1})
		}
		if cand+n-1 < r.End {
			pieces = append(pieces, buddy.Range{Start: cand + n, End: r.End})
		}
		a.ranges = append(a.ranges[:i], append(pieces, a.ranges[i+1:]...)...)
		return removed, true
	}
	return buddy.Range{}, false
}

// removeHead removes and returns the single lowest MPN from the first
// nonempty range satisfying pred, for the early allocator (spec §4.7).
func (a *availRange) removeHead(pred func(MPN) bool) (MPN, bool) {
	for i, r := range a.ranges {
		for mpn := r.Start; mpn <= r.End; mpn++ {
			if !pred(MPN(mpn)) {
				continue
			}
			if mpn == r.Start {
				if r.Len() == 1 {
					a.ranges = append(a.ranges[:i], a.ranges[i+1:]...)
				} else {
					a.ranges[i].Start++
				}
			} else if mpn == r.End {
				a.ranges[i].End--
			} else {
				left := buddy.Range{Start: r.Start, End: mpn - 1}
				right := buddy.Range{Start: mpn + 1, End: r.End}
				rest := append([]buddy.Range{left, right}, a.ranges[i+1:]...)
				a.ranges = append(a.ranges[:i], rest...)
			}
			return MPN(mpn), true
		}
	}
	return 0, false
}

func roundDown(v, align uint64) uint64 {
	return (v / align) * align
}

// log2 returns floor(log2(n)) for n a power of two (and panics otherwise —
// every caller in this package has already validated its input is a power
// of two).
func log2(n uint32) uint {
	if n == 0 || n&(n-1) != 0 {
		panic("memmap: log2 of non-power-of-two")
	}
	var l uint
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
