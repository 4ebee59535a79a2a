package memmap

import (
	"context"
	"testing"
	"time"
)

func TestAllocAndFreePageRange(t *testing.T) {
	ctx := bootTestContext(t, 1)
	mpn, numPages, err := ctx.AllocPageRange(0, Low, 0)
	if err != nil {
		t.Fatalf("AllocPageRange: %v", err)
	}
	if numPages == 0 {
		t.Fatal("expected a nonzero range")
	}
	if err := ctx.FreePageRange(mpn); err != nil {
		t.Fatalf("FreePageRange: %v", err)
	}
}

func TestAllocPageRangeBadNode(t *testing.T) {
	ctx := bootTestContext(t, 1)
	if _, _, err := ctx.AllocPageRange(NodeID(99), Low, 0); err == nil {
		t.Fatal("expected an error for an out-of-range node")
	}
}

func TestFreeVMPageAndUserPage(t *testing.T) {
	ctx := bootTestContext(t, 1)
	mpn, err := ctx.AllocVMPage(AllocRequest{PPN: 1, Color: AnyColor})
	if err != nil {
		t.Fatalf("AllocVMPage: %v", err)
	}
	if err := ctx.FreeVMPage(mpn); err != nil {
		t.Fatalf("FreeVMPage: %v", err)
	}

	mpn, err = ctx.AllocUserPage(AllocRequest{PPN: 2, Color: AnyColor})
	if err != nil {
		t.Fatalf("AllocUserPage: %v", err)
	}
	if err := ctx.FreeUserPage(mpn); err != nil {
		t.Fatalf("FreeUserPage: %v", err)
	}
}

func TestFreeUnknownMPNFails(t *testing.T) {
	ctx := bootTestContext(t, 1)
	if err := ctx.FreeKernelPages(MPN(1) << 40); err == nil {
		t.Fatal("expected an error freeing an mpn that was never allocated")
	}
}

func TestAllocKernelPageWaitSucceedsImmediately(t *testing.T) {
	ctx := bootTestContext(t, 1)
	c, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mpn, err := ctx.AllocKernelPageWait(c, AllocRequest{NumPages: 1, Color: AnyColor})
	if err != nil {
		t.Fatalf("AllocKernelPageWait: %v", err)
	}
	if err := ctx.FreeKernelPages(mpn); err != nil {
		t.Fatalf("FreeKernelPages: %v", err)
	}
}

func TestAllocKernelPageWaitCancels(t *testing.T) {
	smallCtx := smallTestContext(t, 4)
	total := smallCtx.Stats().FreePages
	for i := uint64(0); i < total; i++ {
		if _, err := smallCtx.AllocKernelPages(AllocRequest{NumPages: 1, Color: AnyColor}); err != nil {
			t.Fatalf("draining page %d: %v", i, err)
		}
	}

	c, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := smallCtx.AllocKernelPageWait(c, AllocRequest{NumPages: 1, Color: AnyColor}); err == nil {
		t.Fatal("expected the wait to be cancelled once the machine is exhausted")
	}
}
