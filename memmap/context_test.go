package memmap

import (
	"testing"

	"memmap/buddy"
	"memmap/config"
	"memmap/mtrr"
	"memmap/numa"
	"memmap/ramtest"
	"memmap/sched"
	"memmap/vmap"
)

func bootTestContext(t *testing.T, gbLow uint64) *Context {
	t.Helper()
	pages := (gbLow << 30) / config.PageSize
	bios := []buddy.Range{{Start: 0, End: pages - 1}}
	cfg := config.Default()
	ctx, err := BeginBoot(cfg, bios, numa.Flat{}, mtrr.AllCachable{}, ramtest.AlwaysGood{}, newTestLogger(), 0, 0, false)
	if err != nil {
		t.Fatalf("BeginBoot: %v", err)
	}
	mapper := vmap.NewRawMapper(config.PageSize)
	bud := buddy.NewFake()
	if err := ctx.FinishBoot(nil, bud, mapper, sched.NopScheduler{}, nil); err != nil {
		t.Fatalf("FinishBoot: %v", err)
	}
	return ctx
}

func TestBootReachesReadyState(t *testing.T) {
	ctx := bootTestContext(t, 1)
	if ctx.st != stateReady {
		t.Fatalf("expected stateReady, got %v", ctx.st)
	}
	if ctx.totalPages == 0 {
		t.Fatal("expected nonzero total pages after boot")
	}
	if ctx.numColors == 0 {
		t.Fatal("expected a nonzero color count after boot")
	}
}

func TestBootConservesPages(t *testing.T) {
	ctx := bootTestContext(t, 1)
	if ctx.totalBiosPages != ctx.discardedPages+ctx.kernelUsePages+ctx.managedPages {
		t.Fatalf("I9 violated after boot: bios=%d discarded=%d kernelUse=%d managed=%d",
			ctx.totalBiosPages, ctx.discardedPages, ctx.kernelUsePages, ctx.managedPages)
	}
}

func TestAllocEarlyPageBeforeFinishBoot(t *testing.T) {
	pages := uint64(1) << 10
	bios := []buddy.Range{{Start: 0, End: pages - 1}}
	ctx, err := BeginBoot(config.Default(), bios, numa.Flat{}, mtrr.AllCachable{}, ramtest.AlwaysGood{}, newTestLogger(), 0, 0, false)
	if err != nil {
		t.Fatalf("BeginBoot: %v", err)
	}
	mpn, err := ctx.AllocEarlyPage(Low)
	if err != nil {
		t.Fatalf("AllocEarlyPage: %v", err)
	}
	if mpn != 0 {
		t.Fatalf("expected the first early page to be mpn 0, got %d", mpn)
	}
	if _, err := ctx.AllocKernelPages(AllocRequest{NumPages: 1}); err == nil {
		t.Fatal("steady-state allocation should fail before FinishBoot")
	}
}

func TestBootConservesPagesAfterEarlyAllocation(t *testing.T) {
	pages := uint64(1) << 10
	bios := []buddy.Range{{Start: 0, End: pages - 1}}
	ctx, err := BeginBoot(config.Default(), bios, numa.Flat{}, mtrr.AllCachable{}, ramtest.AlwaysGood{}, newTestLogger(), 0, 0, false)
	if err != nil {
		t.Fatalf("BeginBoot: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := ctx.AllocEarlyPage(Low); err != nil {
			t.Fatalf("AllocEarlyPage: %v", err)
		}
	}
	mapper := vmap.NewRawMapper(config.PageSize)
	if err := ctx.FinishBoot(nil, buddy.NewFake(), mapper, sched.NopScheduler{}, nil); err != nil {
		t.Fatalf("FinishBoot: %v", err)
	}
	if ctx.totalBiosPages != ctx.discardedPages+ctx.kernelUsePages+ctx.managedPages {
		t.Fatalf("I9 violated after boot with early allocations: bios=%d discarded=%d kernelUse=%d managed=%d",
			ctx.totalBiosPages, ctx.discardedPages, ctx.kernelUsePages, ctx.managedPages)
	}
	if ctx.kernelUsePages < 5 {
		t.Fatalf("expected kernelUsePages to account for the 5 early allocations, got %d", ctx.kernelUsePages)
	}
}
