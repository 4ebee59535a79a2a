package memmap

import (
	"context"

	"memmap/config"
	"memmap/errs"

	"golang.org/x/sync/semaphore"
)

// newEarlySemaphore bounds how many early-boot callers may search the
// pre-buddy availRange lists at once. Early boot brings APs up before any
// per-node buddy (and so before any per-node lock) exists, so this repo
// sizes the weighted semaphore to numNodes rather than 1: c.mu still
// serializes the actual mutation, but bounding the waiting-room keeps a
// storm of APs from queuing unboundedly on a single futex-equivalent.
func newEarlySemaphore(numNodes int) *semaphore.Weighted {
	if numNodes < 1 {
		numNodes = 1
	}
	return semaphore.NewWeighted(int64(numNodes))
}

// AllocEarlyPageCtx is AllocEarlyPage with a context, so early-boot AP
// bring-up code can bound how long it waits for a semaphore slot instead
// of blocking forever under contention.
func (c *Context) AllocEarlyPageCtx(ctx context.Context, zone Zone) (MPN, error) {
	if err := c.earlySem.Acquire(ctx, 1); err != nil {
		return 0, errs.New(errs.OutOfMemory, "early allocator is saturated: "+err.Error())
	}
	defer c.earlySem.Release(1)
	return c.allocEarlyPageLocked(zone)
}

// AllocEarlyPage implements C7: a boot-time allocator serving single pages
// from whichever node owns them, valid only in stateEarly. zone picks Low
// or High; AnyZone tries Low first, then High.
func (c *Context) AllocEarlyPage(zone Zone) (MPN, error) {
	return c.AllocEarlyPageCtx(context.Background(), zone)
}

func (c *Context) allocEarlyPageLocked(zone Zone) (MPN, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateEarly {
		return 0, errs.New(errs.InvalidMemMap, "AllocEarlyPage called outside early boot")
	}
	tryZone := func(wantLow bool) (MPN, bool) {
		for _, a := range c.earlyAvail {
			if mpn, ok := a.removeHead(func(m MPN) bool {
				return IsLow(m, config.PageSize) == wantLow
			}); ok {
				return mpn, true
			}
		}
		return 0, false
	}
	var mpn MPN
	var ok bool
	switch zone {
	case Low:
		mpn, ok = tryZone(true)
	case High:
		mpn, ok = tryZone(false)
	default:
		if mpn, ok = tryZone(true); !ok {
			mpn, ok = tryZone(false)
		}
	}
	if !ok {
		return 0, errs.New(errs.OutOfMemory, "no early pages remain for the requested zone")
	}
	// the page just left earlyAvail, so it would otherwise vanish from I9
	// (total_bios_pages == discarded + kernel_use + managed) once
	// FinishBoot recomputes managed_pages from the now-shrunk earlyAvail —
	// charge it to kernel_use_pages immediately, same as a critical
	// consumer's reservation.
	c.kernelUsePages++
	return mpn, nil
}
