package memmap

import (
	"memmap/buddy"
	"memmap/sched"
)

// policyCode is the internal PolicyReturnCode the design notes ask to make
// a closed sum type (spec §9). Only OK and NoPages ever escape this
// package; NodeMaskConflict is resolved by the cascade in api.go before a
// caller ever sees it (spec §7: "a NodeMaskConflict cannot surface from
// step 3 because affinity is disabled").
type policyCode int

const (
	polOK policyCode = iota
	polNodeMaskConflict
	polNoPages
)

// allocRequest bundles one policy-engine attempt's inputs (spec §4.4
// "Inputs").
type allocRequest struct {
	world        *sched.World
	ppn          uint64
	isVMPhysical bool
	isKernel     bool
	numPages     uint32
	nodeMask     uint64
	color        Color
	zone         Zone
	useAffinity  bool
}

// policyResult is what a successful attempt reports (spec §4.4 "Outputs").
type policyResult struct {
	mpn     MPN
	node    NodeID
	zone    Zone
	color   Color
	lookups uint64
}

// policyAttempt is C4, the heart of the allocator: resolve the node mask,
// pick an initial color (or walk every color), and search nodes for a
// buddy that can serve the request. The whole attempt — search through
// success-path counter updates — runs under c.mu. This folds the
// teacher-agnostic "dual locks with publication race" design note (spec
// §9) into a single lock, trading a little hold time across the buddy call
// for counters that are never transiently inconsistent with the buddies
// they summarize.
func (c *Context) policyAttempt(req allocRequest) (policyResult, policyCode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st != stateReady {
		return policyResult{}, polNoPages
	}

	recMask := c.recMaskForZone(req.zone)
	affMask := c.affMaskFor(req.world, req.useAffinity)
	combined := affMask & req.nodeMask
	if combined == 0 {
		return policyResult{}, polNodeMaskConflict
	}
	search := combined & recMask
	if search == 0 {
		return policyResult{}, polNoPages
	}

	recZone := req.zone
	if recZone == AnyZone {
		recZone = c.recommendZone()
	}

	colors := c.candidateColors(req)

	var lookups uint64
	for _, color := range colors {
		for offset := 0; offset < c.numNodes; offset++ {
			n := NodeID((int(c.nextNode) + offset) % c.numNodes)
			if search&(uint64(1)<<uint(n)) == 0 {
				continue
			}
			lookups++
			if mpn, zone, ok := c.tryNode(n, recZone, req.numPages, color, req); ok {
				res := policyResult{mpn: mpn, node: n, zone: zone, color: color, lookups: lookups}
				c.onAllocSuccess(res, req)
				return res, polOK
			}
		}
	}
	return policyResult{}, polNoPages
}

// candidateColors returns the colors to try, in order: either the single
// caller-requested color, or the full bit-reversed walk starting from the
// initial color spec §4.4 derives for this kind of allocation.
func (c *Context) candidateColors(req allocRequest) []Color {
	if req.color != AnyColor {
		return []Color{req.color}
	}
	initial := c.initialColorFor(req)
	if c.numColors <= 1 {
		return []Color{initial}
	}
	walk := newColorWalk(initial, c.numColors)
	colors := make([]Color, 0, c.numColors)
	for {
		colors = append(colors, walk.Current())
		if walk.Done() {
			break
		}
		walk.Advance()
	}
	return colors
}

// initialColorFor picks the first color to try when the caller left color
// unspecified (spec §4.4 "Initial color").
func (c *Context) initialColorFor(req allocRequest) Color {
	if req.isVMPhysical {
		base := req.ppn
		if req.world != nil {
			base += uint64(req.world.ID)
			if !req.world.AllowAllColors && len(req.world.Colors) > 0 {
				idx := base % uint64(len(req.world.Colors))
				return Color(req.world.Colors[idx])
			}
		}
		return Color(base % uint64(c.numColors))
	}
	return c.nextKernelColor
}

// recommendZone implements LowHighPolicy (spec §4.4).
func (c *Context) recommendZone() Zone {
	if c.freeLowPages > uint64(c.cfg.HighWatermark) && c.freeLowPages > c.reservedLowPages {
		return Low
	}
	if c.numFreeHighPages() < uint64(c.cfg.MinFreeHighPages) {
		return AnyZone
	}
	return High
}

// recMaskForZone computes rec_mask from the caller's requested zone (spec
// §4.4 "Node-mask reconciliation") — note this reads the *requested* zone,
// not the LowHighPolicy recommendation, so an Any request is never
// pre-filtered to only low- or only high-capable nodes before the
// per-node attempt gets a chance to try both.
func (c *Context) recMaskForZone(z Zone) uint64 {
	switch z {
	case AnyZone:
		return c.validNodes
	case High:
		return c.freeHighNodes
	case Low:
		return c.freeLowNodes
	case LowReserved:
		return c.freeReservedNodes
	default:
		return 0
	}
}

// affMaskFor computes aff_mask: the world's affinity mask clamped to valid
// nodes, or "all" when affinity isn't in play or the clamp is empty (spec
// §4.4).
func (c *Context) affMaskFor(world *sched.World, useAffinity bool) uint64 {
	all := allNodesMask(c.numNodes)
	if !useAffinity || world == nil {
		return all
	}
	m := world.AffinityMask & c.validNodes
	if m == 0 {
		return all
	}
	return m
}

func allNodesMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// tryNode implements the "Per-node attempt" cascade: try high first when
// the recommended zone allows it, then low (defending the reserve unless
// the request is explicitly LowReserved).
func (c *Context) tryNode(n NodeID, recZone Zone, numPages uint32, color Color, req allocRequest) (MPN, Zone, bool) {
	node := c.nodes[n]
	ctx := buddy.CallerCtx{HasPPN: req.isVMPhysical, PPN: req.ppn}
	if req.world != nil {
		ctx.WorldID = req.world.ID
	}

	if (recZone == High || recZone == AnyZone) && node.hasHigh {
		if mpn, ok := c.bud.AllocateColor(node.BuddyHigh, numPages, uint32(color), ctx); ok {
			return MPN(mpn), High, true
		}
	}
	if recZone != High && node.hasLow {
		if recZone != LowReserved && node.FreeLowPages <= node.ReservedLow {
			return 0, 0, false
		}
		if mpn, ok := c.bud.AllocateColor(node.BuddyLow, numPages, uint32(color), ctx); ok {
			z := recZone
			if z == AnyZone {
				z = Low
			}
			return MPN(mpn), z, true
		}
	}
	return 0, 0, false
}

// onAllocSuccess applies spec §4.4's success post-conditions. Called with
// c.mu held.
func (c *Context) onAllocSuccess(res policyResult, req allocRequest) {
	isLow := res.zone != High
	c.decrement(res.node, uint64(req.numPages), isLow, req.isKernel)

	if req.isVMPhysical {
		c.nextNode = NodeID((int(res.node) + 1) % c.numNodes)
	} else {
		old := c.nextKernelColor
		c.nextKernelColor = Color((uint32(old) + 1) % c.numColors)
		if c.nextKernelColor < old {
			c.nextNode = NodeID((int(c.nextNode) + 1) % c.numNodes)
		}
	}

	c.totalGoodAllocs++
	c.totalColorNodeLookups += res.lookups

	if c.ioprot != nil {
		c.ioprot.MarkAllocated(res.mpn, req.numPages)
	}
	c.schedr.OnFreePagesChange(c.unusedPages())
}
