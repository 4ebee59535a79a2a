package memmap

import "fmt"

// Snapshot is a point-in-time copy of the allocator's live counters,
// grounded on the teacher's Stats2String pattern (biscuit's src/stats
// package reflects over a struct of named counters to dump a debug
// string; this repo's counters are heterogeneous enough — system totals,
// per-node slices, bitmasks — that a hand-written String() does the same
// job without reflection).
type Snapshot struct {
	TotalPages, TotalLowPages, FreePages, FreeLowPages, KernelPages uint64
	ReservedLowPages, InitFreePages                                 uint64

	ValidNodes, FreeLowNodes, FreeHighNodes, FreeReservedNodes uint64

	TotalBiosPages, DiscardedPages, KernelUsePages, ManagedPages uint64
	TotalGoodAllocs, TotalColorNodeLookups                       uint64

	NumColors uint32
	NumNodes  int

	Nodes []NodeSnapshot
}

// NodeSnapshot is one Node's counters, copied out from under mu.
type NodeSnapshot struct {
	ID                                         NodeID
	TotalPages, TotalLowPages, ReservedLow     uint64
	FreePages, FreeLowPages, KernelPages       uint64
}

// Stats returns a Snapshot of the current counters (spec §3's "live
// counters", read consistently under mu).
func (c *Context) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalPages:        c.totalPages,
		TotalLowPages:      c.totalLowPages,
		FreePages:          c.freePages,
		FreeLowPages:       c.freeLowPages,
		KernelPages:        c.kernelPages,
		ReservedLowPages:   c.reservedLowPages,
		InitFreePages:      c.initFreePages,
		ValidNodes:         c.validNodes,
		FreeLowNodes:       c.freeLowNodes,
		FreeHighNodes:      c.freeHighNodes,
		FreeReservedNodes:  c.freeReservedNodes,
		TotalBiosPages:     c.totalBiosPages,
		DiscardedPages:     c.discardedPages,
		KernelUsePages:     c.kernelUsePages,
		ManagedPages:       c.managedPages,
		TotalGoodAllocs:    c.totalGoodAllocs,
		TotalColorNodeLookups: c.totalColorNodeLookups,
		NumColors:          c.numColors,
		NumNodes:           c.numNodes,
	}
	for _, n := range c.nodes {
		s.Nodes = append(s.Nodes, NodeSnapshot{
			ID:            n.ID,
			TotalPages:    n.TotalPages,
			TotalLowPages: n.TotalLowPages,
			ReservedLow:   n.ReservedLow,
			FreePages:     n.FreePages,
			FreeLowPages:  n.FreeLowPages,
			KernelPages:   n.KernelPages,
		})
	}
	return s
}

func (s Snapshot) String() string {
	out := fmt.Sprintf("memmap: total=%d low=%d free=%d free_low=%d kernel=%d reserved_low=%d colors=%d nodes=%d good_allocs=%d lookups=%d\n",
		s.TotalPages, s.TotalLowPages, s.FreePages, s.FreeLowPages, s.KernelPages,
		s.ReservedLowPages, s.NumColors, s.NumNodes, s.TotalGoodAllocs, s.TotalColorNodeLookups)
	for _, n := range s.Nodes {
		out += fmt.Sprintf("  node %d: total=%d low=%d free=%d free_low=%d kernel=%d reserved_low=%d\n",
			n.ID, n.TotalPages, n.TotalLowPages, n.FreePages, n.FreeLowPages, n.KernelPages, n.ReservedLow)
	}
	return out
}
