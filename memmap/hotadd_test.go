package memmap

import (
	"testing"

	"memmap/buddy"
)

func TestHotAddExtendsCapacity(t *testing.T) {
	ctx := bootTestContext(t, 1)
	before := ctx.Stats()

	addStart := uint64(ctx.lastValidMPN) + 1
	addEnd := addStart + 4095
	if err := ctx.HotAdd([]buddy.Range{{Start: addStart, End: addEnd}}, false); err != nil {
		t.Fatalf("HotAdd: %v", err)
	}

	after := ctx.Stats()
	if after.TotalPages <= before.TotalPages {
		t.Fatalf("expected total pages to grow: before=%d after=%d", before.TotalPages, after.TotalPages)
	}
	if after.FreePages <= before.FreePages {
		t.Fatalf("expected free pages to grow: before=%d after=%d", before.FreePages, after.FreePages)
	}
	if ctx.st != stateReady {
		t.Fatalf("expected stateReady after HotAdd, got %v", ctx.st)
	}
	if ctx.totalBiosPages != ctx.discardedPages+ctx.kernelUsePages+ctx.managedPages {
		t.Fatalf("I9 violated after hot-add: bios=%d discarded=%d kernelUse=%d managed=%d",
			ctx.totalBiosPages, ctx.discardedPages, ctx.kernelUsePages, ctx.managedPages)
	}

	// the newly added pages must actually be allocatable.
	mpn, err := ctx.AllocKernelPages(AllocRequest{NumPages: 1, Color: AnyColor})
	if err != nil {
		t.Fatalf("AllocKernelPages after hot-add: %v", err)
	}
	if err := ctx.FreeKernelPages(mpn); err != nil {
		t.Fatalf("FreeKernelPages: %v", err)
	}
}

func TestHotAddRejectsOverlap(t *testing.T) {
	ctx := bootTestContext(t, 1)
	err := ctx.HotAdd([]buddy.Range{{Start: 0, End: 4095}}, false)
	if err == nil {
		t.Fatal("expected an error for a hot-add range overlapping already-managed memory")
	}
	if ctx.st != stateReady {
		t.Fatalf("a rejected hot-add must leave the context in stateReady, got %v", ctx.st)
	}
}

func TestHotAddSumsPerNodeReserve(t *testing.T) {
	ctx := bootTestContext(t, 1)
	addStart := uint64(ctx.lastValidMPN) + 1
	addEnd := addStart + (1 << 20) - 1 // enough low+high span to trigger a reserve
	if err := ctx.HotAdd([]buddy.Range{{Start: addStart, End: addEnd}}, false); err != nil {
		t.Fatalf("HotAdd: %v", err)
	}

	var sum uint64
	for _, n := range ctx.nodes {
		sum += n.ReservedLow
	}
	if sum != ctx.reservedLowPages {
		t.Fatalf("I6 violated after hot-add: sum(node.ReservedLow)=%d, reservedLowPages=%d", sum, ctx.reservedLowPages)
	}
}
