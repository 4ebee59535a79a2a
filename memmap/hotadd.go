package memmap

import (
	"memmap/buddy"
	"memmap/config"
	"memmap/errs"
)

// HotAdd implements C8: fold a freshly-onlined physical range into the
// running allocator. hotAddMu serializes hot-add against itself and ranks
// above mu (spec §5's lock hierarchy: "memmap_lock inside
// hot_mem_add_lock"), so this method never calls anything that itself
// tries to take hotAddMu.
//
// Ingest, critical reservation (isHotadd=true), and pool building all run
// without mu held — they only touch the freshly-ingested perNode ranges
// and the caller's own node snapshot — and the result is folded into the
// live counters under mu right at the end, the same "build off to the
// side, publish under the lock" shape C3 already uses during boot.
func (c *Context) HotAdd(bios []buddy.Range, forceEveryWord bool) error {
	c.hotAddMu.Lock()
	defer c.hotAddMu.Unlock()

	c.mu.Lock()
	if c.st != stateReady {
		c.mu.Unlock()
		return errs.New(errs.InvalidMemMap, "HotAdd called outside steady state")
	}
	c.st = stateHotAdding
	topo, cach, tester := c.topo, c.cach, c.tester
	firstMPN, lastValidMPN := uint64(c.firstMPN), uint64(c.lastValidMPN)
	consumers := c.consumers
	bud, mapper := c.bud, c.mapper
	numColors, fourGBMPN := c.numColors, c.fourGBMPN
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.st = stateReady
		c.mu.Unlock()
		return err
	}

	if err := rejectOverlap(bios, firstMPN, lastValidMPN); err != nil {
		return fail(err)
	}

	perNode, st, err := ingest(bios, topo, cach, tester, forceEveryWord, firstMPN, firstMPN, config.EvilMPN)
	if err != nil {
		return fail(err)
	}

	newMin, newMax := ^uint64(0), uint64(0)
	for _, r := range bios {
		if r.Start < newMin {
			newMin = r.Start
		}
		if r.End > newMax {
			newMax = r.End
		}
	}

	var addedKernelUse uint64
	if err := reserveCritical(perNode, consumers, newMin, newMax, true, &addedKernelUse); err != nil {
		return fail(err)
	}

	results, err := poolBuild(perNode, nodes, bud, mapper, numColors, fourGBMPN)
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	defer func() {
		c.st = stateReady
		c.mu.Unlock()
	}()

	for i, r := range results {
		n := c.nodes[i]
		n.TotalLowPages += r.lowPages
		n.TotalPages += r.lowPages + r.highPages
		n.FreeLowPages += r.lowPages
		n.FreePages += r.lowPages + r.highPages
		n.KernelPages += r.overheadPages

		c.totalPages += r.lowPages + r.highPages
		c.totalLowPages += r.lowPages
		c.freePages += r.lowPages + r.highPages
		c.freeLowPages += r.lowPages
		c.kernelPages += r.overheadPages
		setBit(&c.validNodes, NodeID(i), n.TotalPages > 0)
	}

	c.totalBiosPages += st.totalBios
	c.discardedPages += st.discarded
	c.kernelUsePages += addedKernelUse
	c.managedPages += st.managed - addedKernelUse

	if MPN(newMax) > c.lastValidMPN {
		c.lastValidMPN = MPN(newMax)
	}

	c.proportionReserve()
	c.schedr.OnFreePagesChange(c.unusedPages())

	c.log.WithField("added_low_pages", sumLow(results)).
		WithField("added_high_pages", sumHigh(results)).
		Info("memmap: hot-add complete")
	return nil
}

// rejectOverlap enforces spec §4.8's "reject ranges overlapping existing
// MPNs" precondition using the coarse [firstMPN, lastValidMPN] span
// already managed.
func rejectOverlap(bios []buddy.Range, firstMPN, lastValidMPN uint64) error {
	for _, r := range bios {
		if r.Start <= lastValidMPN && r.End >= firstMPN {
			return errs.New(errs.BadParam, "hot-add range overlaps already-managed memory")
		}
	}
	return nil
}

func sumLow(results []nodePoolResult) uint64 {
	var n uint64
	for _, r := range results {
		n += r.lowPages
	}
	return n
}

func sumHigh(results []nodePoolResult) uint64 {
	var n uint64
	for _, r := range results {
		n += r.highPages
	}
	return n
}
