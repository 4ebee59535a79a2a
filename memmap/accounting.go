package memmap

// Accounting (C5). Every method here must be called with c.mu held — it
// mirrors the single MemMap spinlock spec §5 describes protecting every
// "live counter" and "node-availability bitmask" field.

// decrement subtracts n pages from the free counters after a successful
// allocation on node. Callers hold c.mu.
func (c *Context) decrement(node NodeID, n uint64, isLow, isKernel bool) {
	c.freePages -= n
	c.nodes[node].FreePages -= n
	if isLow {
		c.freeLowPages -= n
		c.nodes[node].FreeLowPages -= n
	}
	if isKernel {
		c.kernelPages += n
		c.nodes[node].KernelPages += n
	}
	c.refreshNodeMasks(node)
}

// increment is decrement's mirror, used on the free path.
func (c *Context) increment(node NodeID, n uint64, isLow, isKernel bool) {
	c.freePages += n
	c.nodes[node].FreePages += n
	if isLow {
		c.freeLowPages += n
		c.nodes[node].FreeLowPages += n
	}
	if isKernel {
		c.kernelPages -= n
		c.nodes[node].KernelPages -= n
	}
	c.refreshNodeMasks(node)
}

// refreshNodeMasks updates free_low_nodes/free_high_nodes/free_reserved_nodes
// for node based on its current counters relative to its reserve (I4, I5).
func (c *Context) refreshNodeMasks(node NodeID) {
	n := c.nodes[node]
	setBit(&c.freeLowNodes, node, n.FreeLowPages > n.ReservedLow)
	setBit(&c.freeReservedNodes, node, n.FreeLowPages > 0)
	setBit(&c.freeHighNodes, node, n.FreePages > n.FreeLowPages)
}

func setBit(mask *uint64, bit NodeID, v bool) {
	if v {
		*mask |= 1 << uint(bit)
	} else {
		*mask &^= 1 << uint(bit)
	}
}

// unusedPages implements unused_pages() = max(0, free_pages - reserved_low_pages).
func (c *Context) unusedPages() uint64 {
	if c.freePages < c.reservedLowPages {
		return 0
	}
	return c.freePages - c.reservedLowPages
}

// numFreeHighPages implements num_free_high_pages() = max(0, free_pages -
// free_low_pages) — high-zone free pages are derived, not stored.
func (c *Context) numFreeHighPages() uint64 {
	if c.freePages < c.freeLowPages {
		return 0
	}
	return c.freePages - c.freeLowPages
}

// proportionReserve implements the "reserve proportion" rule: if the
// system has any high-memory node, reserve ReserveLowPct% of the free
// pages recorded at boot (initFreePages) for DMA-restricted devices, split
// across nodes in
// proportion to each node's share of total low memory. Called at boot and
// after every hot-add, with c.mu held.
func (c *Context) proportionReserve() {
	hasHigh := false
	for _, n := range c.nodes {
		if n.TotalPages > n.TotalLowPages {
			hasHigh = true
			break
		}
	}
	if !hasHigh {
		c.reservedLowPages = 0
		for _, n := range c.nodes {
			n.ReservedLow = 0
		}
		for node := range c.nodes {
			c.refreshNodeMasks(NodeID(node))
		}
		return
	}

	c.reservedLowPages = uint64(c.initFreePages) * uint64(c.cfg.ReserveLowPct) / 100

	var systemTotalLow uint64
	for _, n := range c.nodes {
		systemTotalLow += n.TotalLowPages
	}
	var assigned uint64
	for i, n := range c.nodes {
		var share uint64
		if systemTotalLow > 0 {
			share = c.reservedLowPages * n.TotalLowPages / systemTotalLow
		}
		n.ReservedLow = share
		assigned += share
		_ = i
	}
	// floor-division leaves a remainder; hand it to the highest-index
	// node with any low memory so Sum(node.ReservedLow) == reservedLowPages
	// (I6), matching the critical-reservation placement bias toward high
	// node indices elsewhere in this package.
	if rem := c.reservedLowPages - assigned; rem > 0 {
		for i := len(c.nodes) - 1; i >= 0; i-- {
			if c.nodes[i].TotalLowPages > 0 {
				c.nodes[i].ReservedLow += rem
				break
			}
		}
	}
	if c.cfg.MinFreeHighPages != 0 && uint64(c.cfg.MinFreeHighPages) <= c.reservedLowPages {
		c.log.Warnf("memmap: configured MinFreeHighPages (%d) does not exceed reserved_low_pages (%d)",
			c.cfg.MinFreeHighPages, c.reservedLowPages)
	}
	for node := range c.nodes {
		c.refreshNodeMasks(NodeID(node))
	}
}
