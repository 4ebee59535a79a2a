package memmap

import "testing"

func newTestContextForAccounting() *Context {
	c := &Context{numNodes: 2}
	c.nodes = []*Node{
		{ID: 0, TotalPages: 1000, TotalLowPages: 1000, FreePages: 1000, FreeLowPages: 1000},
		{ID: 1, TotalPages: 2000, TotalLowPages: 500, FreePages: 2000, FreeLowPages: 500},
	}
	c.totalPages = 3000
	c.totalLowPages = 1500
	c.freePages = 3000
	c.freeLowPages = 1500
	c.cfg.ReserveLowPct = 10
	c.cfg.MinFreeHighPages = 128
	c.log = newTestLogger()
	return c
}

func TestProportionReserveSumsExactly(t *testing.T) {
	c := newTestContextForAccounting()
	c.initFreePages = c.freePages
	c.proportionReserve()

	var sum uint64
	for _, n := range c.nodes {
		sum += n.ReservedLow
	}
	if sum != c.reservedLowPages {
		t.Fatalf("I6 violated: sum(node.ReservedLow)=%d, reservedLowPages=%d", sum, c.reservedLowPages)
	}
	want := c.initFreePages * uint64(c.cfg.ReserveLowPct) / 100
	if c.reservedLowPages != want {
		t.Fatalf("reservedLowPages: got %d, want %d", c.reservedLowPages, want)
	}
}

func TestProportionReserveNoHighMemory(t *testing.T) {
	c := newTestContextForAccounting()
	c.nodes[1].TotalPages = c.nodes[1].TotalLowPages // no node has high memory
	c.initFreePages = c.freePages
	c.proportionReserve()
	if c.reservedLowPages != 0 {
		t.Fatalf("a system with no high memory should reserve nothing, got %d", c.reservedLowPages)
	}
	for _, n := range c.nodes {
		if n.ReservedLow != 0 {
			t.Fatalf("node %d should have zero reserve, got %d", n.ID, n.ReservedLow)
		}
	}
}

func TestDecrementIncrementRoundTrip(t *testing.T) {
	c := newTestContextForAccounting()
	c.decrement(0, 100, true, false)
	if c.freePages != 2900 || c.freeLowPages != 1400 || c.nodes[0].FreePages != 900 {
		t.Fatalf("unexpected state after decrement: free=%d freeLow=%d node0=%d", c.freePages, c.freeLowPages, c.nodes[0].FreePages)
	}
	c.increment(0, 100, true, false)
	if c.freePages != 3000 || c.freeLowPages != 1500 || c.nodes[0].FreePages != 1000 {
		t.Fatalf("increment did not restore original counters: free=%d freeLow=%d node0=%d", c.freePages, c.freeLowPages, c.nodes[0].FreePages)
	}
}

func TestRefreshNodeMasksHighBit(t *testing.T) {
	c := newTestContextForAccounting()
	c.refreshNodeMasks(0)
	c.refreshNodeMasks(1)
	// node 0 is all-low: free_high bit must be clear.
	if c.freeHighNodes&(1<<0) != 0 {
		t.Fatal("node 0 has no high memory, free_high_nodes bit should be clear")
	}
	// node 1 has 1500 high pages free: bit must be set.
	if c.freeHighNodes&(1<<1) == 0 {
		t.Fatal("node 1 has free high memory, free_high_nodes bit should be set")
	}
}

func TestUnusedAndFreeHighPages(t *testing.T) {
	c := newTestContextForAccounting()
	c.reservedLowPages = 500
	if got := c.unusedPages(); got != 2500 {
		t.Fatalf("unusedPages: got %d, want 2500", got)
	}
	if got := c.numFreeHighPages(); got != 1500 {
		t.Fatalf("numFreeHighPages: got %d, want 1500", got)
	}
}
