package memmap

import (
	"memmap/buddy"
	"memmap/errs"
)

// CriticalConsumer is a compile-time-registered subsystem whose metadata
// must be sized proportionally to total managed RAM and reserved before
// any buddy exists (spec §3, §4.2) — the page-share table, inverted page
// map, and (in debug builds) the I/O-permission bitmap are examples.
type CriticalConsumer struct {
	Name string

	// ComputePages returns how many contiguous pages this consumer needs
	// given the managed MPN bounds.
	ComputePages func(minMPN, maxMPN uint64, isHotadd bool) uint32

	// Assign is invoked once the MPNs are chosen.
	Assign func(minMPN, maxMPN uint64, isHotadd bool, r buddy.Range) error
}

const twoMBPages = (2 << 20) / 4096

// reserveCritical implements C2: walk nodes highest to lowest, and within a
// node's availRange from last range to first, carving each consumer's
// pages from the tail (spec §4.2 placement policy), 2MB-aligning when the
// request is large enough and falling back to unaligned on failure.
//
// minMPN/maxMPN bound the whole managed range, for ComputePages; isHotadd
// is threaded straight through to the consumer per spec §4.8 step 3.
func reserveCritical(perNode []*availRange, consumers []CriticalConsumer, minMPN, maxMPN uint64, isHotadd bool, kernelUse *uint64) error {
	for _, c := range consumers {
		need := c.ComputePages(minMPN, maxMPN, isHotadd)
		if need == 0 {
			continue
		}
		r, err := placeConsumer(perNode, uint64(need))
		if err != nil {
			return errs.New(errs.InvalidMemMap, "critical consumer "+c.Name+" could not be placed: "+err.Error())
		}
		if err := c.Assign(minMPN, maxMPN, isHotadd, r); err != nil {
			return errs.New(errs.InvalidMemMap, "critical consumer "+c.Name+" rejected its assignment: "+err.Error())
		}
		*kernelUse += uint64(need)
	}
	return nil
}

// placeConsumer finds and removes an n-page run, searching nodes from
// highest index to lowest. Runs needing >= 2MB are aligned when possible;
// if alignment is impossible the search is retried once without it (spec
// §4.2, §7 "a failed critical-reservation alignment attempt is retried
// once without alignment; a second failure is fatal").
func placeConsumer(perNode []*availRange, n uint64) (buddy.Range, error) {
	wantAligned := n >= twoMBPages
	if wantAligned {
		if r, ok := searchNodes(perNode, n, true); ok {
			return r, nil
		}
	}
	if r, ok := searchNodes(perNode, n, false); ok {
		return r, nil
	}
	return buddy.Range{}, errBadCriticalPlacement
}

func searchNodes(perNode []*availRange, n uint64, aligned bool) (buddy.Range, bool) {
	for i := len(perNode) - 1; i >= 0; i-- {
		a := perNode[i]
		if aligned {
			if r, ok := a.removeAligned(n, twoMBPages); ok {
				return r, true
			}
			continue
		}
		if r, ok := a.removeTail(n); ok {
			return r, true
		}
	}
	return buddy.Range{}, false
}

type critErr string

func (e critErr) Error() string { return string(e) }

const errBadCriticalPlacement = critErr("no node has a contiguous run large enough for this consumer")
