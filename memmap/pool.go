package memmap

import (
	"memmap/buddy"
	"memmap/config"
	"memmap/vmap"

	"golang.org/x/sync/errgroup"
)

// nodePoolResult is what poolBuild learns about one node's contribution.
type nodePoolResult struct {
	lowPages, highPages, overheadPages uint64
}

// poolBuild implements C3: for every node, submit each surviving
// availRange to the appropriate (node, zone) buddy, splitting at the 4GB
// boundary and carving the buddy's own metadata pages out of the range
// first (spec §4.3). Nodes are processed concurrently — each owns a
// disjoint slice of physical memory and a disjoint pair of buddy handles,
// so there is no shared state to race on until the caller folds the
// results into the Context's counters.
func poolBuild(perNode []*availRange, nodes []*Node, bud buddy.Buddy, mapper vmap.Mapper, numColors uint32, fourGBMPN uint64) ([]nodePoolResult, error) {
	results := make([]nodePoolResult, len(nodes))
	var g errgroup.Group
	for i := range nodes {
		i := i
		g.Go(func() error {
			r, err := poolBuildNode(perNode[i], nodes[i], bud, mapper, numColors, fourGBMPN)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func poolBuildNode(a *availRange, node *Node, bud buddy.Buddy, mapper vmap.Mapper, numColors uint32, fourGBMPN uint64) (nodePoolResult, error) {
	var res nodePoolResult
	ranges := append([]buddy.Range(nil), a.ranges...)
	a.ranges = nil
	for _, r := range ranges {
		if r.Start < fourGBMPN {
			lowEnd := r.End
			if lowEnd >= fourGBMPN {
				lowEnd = fourGBMPN - 1
			}
			if err := addPiece(node, false, buddy.Range{Start: r.Start, End: lowEnd}, bud, mapper, numColors, &res); err != nil {
				return res, err
			}
		}
		if r.End >= fourGBMPN {
			highStart := r.Start
			if highStart < fourGBMPN {
				highStart = fourGBMPN
			}
			if err := addPiece(node, true, buddy.Range{Start: highStart, End: r.End}, bud, mapper, numColors, &res); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// addPiece carves buddy metadata out of piece and attaches the remainder to
// the node's low or high buddy, creating it on first use.
func addPiece(node *Node, high bool, piece buddy.Range, bud buddy.Buddy, mapper vmap.Mapper, numColors uint32, res *nodePoolResult) error {
	ovhdBytes := bud.MetadataBytes(piece.Len())
	ovhdPages := ceilDiv(ovhdBytes, uint64(config.PageSize))
	if ovhdPages >= piece.Len() {
		// whole range is smaller than its own overhead: skip silently,
		// counted as overhead (spec §4.3).
		res.overheadPages += piece.Len()
		return nil
	}

	tmp := &availRange{ranges: []buddy.Range{piece}}
	var metaRange buddy.Range
	var ok bool
	if ovhdPages >= twoMBPages {
		metaRange, ok = tmp.removeAligned(ovhdPages, twoMBPages)
	}
	if !ok {
		metaRange, ok = tmp.removeTail(ovhdPages)
	}
	if !ok {
		// overhead somehow doesn't fit (shouldn't happen given the
		// ovhdPages >= piece.Len() check above); treat defensively as
		// fully-consumed overhead rather than losing pages silently.
		res.overheadPages += piece.Len()
		return nil
	}
	res.overheadPages += ovhdPages

	mapping, err := mapper.Map(metaRange)
	if err != nil {
		return err
	}
	defer mapping.Release()
	buf := mapping.Bytes()

	remainder := tmp.ranges
	var added uint64
	for _, r := range remainder {
		added += r.Len()
	}

	hasHandle := node.hasHigh
	if !high {
		hasHandle = node.hasLow
	}
	if !hasHandle {
		info := buddy.DynRangeInfo{MinMPN: piece.Start, MaxMPN: piece.End, NumColors: numColors}
		h, err := bud.Create(info, ovhdBytes, buf, remainder)
		if err != nil {
			return err
		}
		setBuddyHandle(node, high, h)
	} else {
		h := node.BuddyLow
		if high {
			h = node.BuddyHigh
		}
		for _, r := range remainder {
			if err := bud.HotAddRange(h, ovhdBytes, buf, r); err != nil {
				return err
			}
		}
	}

	if high {
		res.highPages += added
	} else {
		res.lowPages += added
	}
	return nil
}

func setBuddyHandle(node *Node, high bool, h buddy.Handle) {
	if high {
		node.BuddyHigh = h
		node.hasHigh = true
	} else {
		node.BuddyLow = h
		node.hasLow = true
	}
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
