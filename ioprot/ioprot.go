// Package ioprot implements C6, the I/O permission map: a debug-only
// shadow bitmap recording which MPNs are currently allocated, so a
// hypervisor build can assert that no device is ever handed a DMA target
// the allocator doesn't believe is live (spec §4.6).
//
// The teacher gates its own debug-only instrumentation (stats/timing
// counters) behind a compile-time const bool rather than a runtime flag
// (biscuit's src/stats package: "const Stats = false"), so every check in
// this package costs nothing in a build that sets Enabled to false — the
// compiler deletes the dead branch.
package ioprot

import (
	"sync"

	"memmap"
	"memmap/buddy"
	"memmap/vmap"
)

// Enabled gates every method in this package to a no-op when false,
// matching spec §4.6 ("compiled out of release builds").
const Enabled = true

// segment is one append-only slice of the I/O permission bitmap, backed by
// the critical-reservation pages assigned to it at boot or hot-add time.
// A segment is never resized or moved once appended: hot-add grows the map
// by appending a new segment for the freshly managed range instead of
// touching an already-live one (spec §4.8 — existing bookkeeping for
// already-managed memory must not move).
type segment struct {
	minMPN, maxMPN uint64 // covers [minMPN, maxMPN)
	bits           []byte
}

func (s *segment) covers(mpn uint64) bool { return mpn >= s.minMPN && mpn < s.maxMPN }

func (s *segment) get(mpn uint64) bool {
	idx := mpn - s.minMPN
	return s.bits[idx/8]&(1<<(idx%8)) != 0
}

func (s *segment) set(mpn uint64, v bool) {
	idx := mpn - s.minMPN
	if v {
		s.bits[idx/8] |= 1 << (idx % 8)
	} else {
		s.bits[idx/8] &^= 1 << (idx % 8)
	}
}

// Map is the I/O permission map: an append-only array of segments, one per
// boot or hot-add range (the "IOProtSegment" structure spec §4.6
// describes), rather than a single fixed-size bitmap that would need to be
// reallocated and copied every time HotAdd extends the managed range.
type Map struct {
	mu       sync.Mutex
	segments []*segment
}

// New returns an empty Map. Segments are added by registering Consumer as a
// CriticalConsumer in the boot consumer list; it then runs at boot and
// again for each range a later HotAdd brings online.
func New() *Map {
	return &Map{}
}

// Consumer returns a CriticalConsumer (spec §4.2, §4.6) that reserves this
// segment's own backing bits as critical metadata, maps them through
// mapper, and appends the resulting segment to the map. Register it once
// in the boot consumer list passed to FinishBoot; HotAdd reruns that same
// consumer list for each new range, the same way the page-share table and
// inverted page map grow.
func (m *Map) Consumer(mapper vmap.Mapper) memmap.CriticalConsumer {
	return memmap.CriticalConsumer{
		Name: "ioprot",
		ComputePages: func(minMPN, maxMPN uint64, isHotadd bool) uint32 {
			n := maxMPN - minMPN + 1
			bitBytes := (n + 7) / 8
			return uint32((bitBytes + 4095) / 4096)
		},
		Assign: func(minMPN, maxMPN uint64, isHotadd bool, r buddy.Range) error {
			mapping, err := mapper.Map(r)
			if err != nil {
				return err
			}
			defer mapping.Release()
			seg := &segment{minMPN: minMPN, maxMPN: maxMPN + 1, bits: mapping.Bytes()}
			m.mu.Lock()
			m.segments = append(m.segments, seg)
			m.mu.Unlock()
			return nil
		},
	}
}

// MarkAllocated records that the numPages pages starting at mpn are live
// allocations, satisfying the memmap.IOPermissionSink interface.
func (m *Map) MarkAllocated(mpn memmap.MPN, numPages uint32) {
	m.setRange(uint64(mpn), numPages, true)
}

// MarkFreed clears the bits MarkAllocated set.
func (m *Map) MarkFreed(mpn memmap.MPN, numPages uint32) {
	m.setRange(uint64(mpn), numPages, false)
}

func (m *Map) setRange(start uint64, numPages uint32, v bool) {
	if !Enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := uint64(0); i < uint64(numPages); i++ {
		mpn := start + i
		for _, s := range m.segments {
			if s.covers(mpn) {
				s.set(mpn, v)
				break
			}
		}
	}
}

// IsAllocated reports whether mpn is currently marked live. Used by a
// device DMA path to assert a target MPN is real before programming
// hardware with it. An mpn outside every registered segment is untracked
// rather than disallowed — spec §4.6 treats memory the map never reserved
// bits for (not yet managed, or tracking compiled out) as I/O-permitted by
// default, the same as a release build with Enabled false.
func (m *Map) IsAllocated(mpn uint64) bool {
	if !Enabled {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.segments {
		if s.covers(mpn) {
			return s.get(mpn)
		}
	}
	return true
}
