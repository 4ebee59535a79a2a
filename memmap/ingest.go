package memmap

import (
	"memmap/buddy"
	"memmap/config"
	"memmap/errs"
	"memmap/mtrr"
	"memmap/numa"
	"memmap/ramtest"
)

// ingestStats carries the BIOS-derived bookkeeping spec §3 requires:
// total_bios_pages == discarded + kernel_use + managed (I9).
type ingestStats struct {
	totalBios uint64
	discarded uint64
	kernelUse uint64
	managed   uint64
}

// checkEveryWordThresholdPages is the range size (in pages) at or below which
// range ingest always does the exhaustive word-by-word self-test,
// regardless of the caller's request (spec §4.1: "or the range is <= 1MB").
const checkEveryWordThresholdPages = (1 << 20) / config.PageSize

// ingest implements C1: reconcile BIOS ranges against the NUMA table,
// reject bad/uncachable/evil pages, and produce one availRange per node.
//
// firstMPN/nextMPN is the sub-range already consumed by early kernel setup
// before the MemMap gains control (spec §6); those pages are charged to
// kernelUse, not managed or discarded.
func ingest(
	bios []buddy.Range,
	topo numa.Topology,
	cach mtrr.Oracle,
	tester ramtest.Tester,
	forceEveryWord bool,
	firstMPN, nextMPN uint64,
	evilMPN uint64,
) ([]*availRange, ingestStats, error) {
	numNodes := topo.NumNodes()
	if numNodes < 1 || numNodes > MaxNodes {
		return nil, ingestStats{}, errs.New(errs.InvalidMemMap, "numa topology reports an unsupported node count")
	}

	perNode := make([]*availRange, numNodes)
	for i := range perNode {
		perNode[i] = &availRange{}
	}

	var st ingestStats
	preConsumed := func(mpn uint64) bool {
		return mpn >= firstMPN && mpn < nextMPN
	}

	for _, br := range bios {
		st.totalBios += br.Len()
		everyWord := forceEveryWord || br.Len() <= checkEveryWordThresholdPages
		bad := tester.Scan(br, everyWord)

		var covered uint64
		for node := 0; node < numNodes; node++ {
			for _, ir := range topo.MemRangeIntersection(node, br) {
				covered += ir.Len()
				ingestRange(perNode[node], ir, bad, cach, preConsumed, evilMPN, &st)
			}
		}
		if covered < br.Len()-preConsumedOverlap(br, firstMPN, nextMPN) {
			return nil, ingestStats{}, errs.New(errs.InvalidMemMap,
				"a BIOS range has MPNs claimed by no NUMA range (SRAT/e820 mismatch)")
		}
	}

	for _, a := range perNode {
		if a.totalPages() == 0 {
			return nil, ingestStats{}, errs.New(errs.InvalidMemMap, "a NUMA node has zero accepted pages after ingest")
		}
	}
	st.kernelUse += nextMPN - firstMPN
	st.managed = st.totalBios - st.discarded - st.kernelUse
	return perNode, st, nil
}

// preConsumedOverlap returns how many pages of br fall in
// [firstMPN, nextMPN), so the SRAT-mismatch check doesn't demand NUMA
// coverage of pages the kernel already claimed before the MemMap started.
func preConsumedOverlap(br buddy.Range, firstMPN, nextMPN uint64) uint64 {
	if nextMPN <= firstMPN {
		return 0
	}
	s := br.Start
	if s < firstMPN {
		s = firstMPN
	}
	e := br.End
	if e >= nextMPN {
		e = nextMPN - 1
	}
	if e < s {
		return 0
	}
	return e - s + 1
}

// ingestRange coalesces the acceptable MPNs of ir (already intersected with
// one node's NUMA ranges) into sub-ranges appended to dst, closing the
// current sub-range on any self-test failure, MTRR-fail, evil-page, or
// pre-consumed MPN (spec §4.1 "intersection algorithm").
func ingestRange(dst *availRange, ir buddy.Range, bad map[uint64]bool, cach mtrr.Oracle, preConsumed func(uint64) bool, evilMPN uint64, st *ingestStats) {
	var open bool
	var start uint64
	closeRun := func(end uint64) {
		if open {
			dst.ranges = append(dst.ranges, buddy.Range{Start: start, End: end})
			open = false
		}
	}
	for mpn := ir.Start; mpn <= ir.End; mpn++ {
		switch {
		case preConsumed(mpn):
			closeRun(mpn - 1)
		case mpn == evilMPN:
			closeRun(mpn - 1)
		case bad[mpn] || !cach.IsWBCached(mpn):
			closeRun(mpn - 1)
			st.discarded++
		default:
			if !open {
				open = true
				start = mpn
			}
		}
		if mpn == ir.End {
			closeRun(mpn)
		}
	}
}
