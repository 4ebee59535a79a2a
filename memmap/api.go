package memmap

import (
	"context"
	"time"

	"memmap/buddy"
	"memmap/errs"
	"memmap/sched"
)

// waitPollInterval is how often the waiting allocation variant retries
// (spec §4.4 "the waiting variant", "1ms sleep retry loop").
const waitPollInterval = time.Millisecond

// AllocRequest is the public shape of one allocation ask. Zero value
// requests the Any zone, no affinity, and no node restriction. Color has no
// such default: its zero value is the real, specific cache color 0, not a
// wildcard, so a caller that does not care passes AnyColor explicitly.
type AllocRequest struct {
	World    *sched.World
	PPN      uint64
	NumPages uint32
	NodeMask uint64
	Color    Color
	Zone     Zone
	Affinity bool
}

func (r AllocRequest) toInternal(isVMPhysical, isKernel bool) allocRequest {
	nodeMask := r.NodeMask
	if nodeMask == 0 {
		nodeMask = ^uint64(0)
	}
	return allocRequest{
		world:        r.World,
		ppn:          r.PPN,
		isVMPhysical: isVMPhysical,
		isKernel:     isKernel,
		numPages:     r.NumPages,
		nodeMask:     nodeMask,
		color:        r.Color,
		zone:         r.Zone,
		useAffinity:  r.Affinity,
	}
}

// allocOnce runs the cascade spec §4.4 describes for a single (non-waiting)
// allocation attempt: the caller's own zone and affinity first, then Any
// zone with affinity kept, then (if affinity was requested at all) Any
// zone with affinity dropped. Only the last step's outcome escapes to the
// caller; every earlier NodeMaskConflict or NoPages just advances the
// cascade.
func (c *Context) allocOnce(req allocRequest) (MPN, NodeID, Zone, Color, error) {
	steps := []allocRequest{req}
	if req.zone != AnyZone {
		broadZone := req
		broadZone.zone = AnyZone
		steps = append(steps, broadZone)
	}
	if req.useAffinity {
		noAff := steps[len(steps)-1]
		noAff.useAffinity = false
		steps = append(steps, noAff)
	}

	var lastCode policyCode
	for _, step := range steps {
		res, code := c.policyAttempt(step)
		if code == polOK {
			return res.mpn, res.node, res.zone, res.color, nil
		}
		lastCode = code
	}
	if lastCode == polNodeMaskConflict {
		return 0, 0, 0, 0, errs.New(errs.BadParam, "no node satisfies the requested node mask")
	}
	return 0, 0, 0, 0, errs.New(errs.OutOfMemory, "no pages available for this request")
}

// AllocKernelPages allocates numPages contiguous pages for kernel use
// (spec §4.4 alloc_kernel_pages).
func (c *Context) AllocKernelPages(req AllocRequest) (MPN, error) {
	mpn, _, _, _, err := c.allocOnce(req.toInternal(false, true))
	return mpn, err
}

// AllocKernelPageWait retries AllocKernelPages at waitPollInterval until it
// succeeds, ctx is done, the world is marked dying, or a checkpoint begins
// (spec §4.4 "the waiting variant").
func (c *Context) AllocKernelPageWait(ctx context.Context, req AllocRequest) (MPN, error) {
	for {
		mpn, err := c.AllocKernelPages(req)
		if err == nil {
			return mpn, nil
		}
		if !errs.Is(err, errs.OutOfMemory) {
			return 0, err
		}
		if req.World != nil {
			if req.World.IsDying() {
				return 0, errs.New(errs.InvalidMemMap, "world is dying")
			}
			if req.World.CheckpointStarting() {
				return 0, errs.New(errs.InvalidMemMap, "checkpoint in progress")
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// AllocVMPage allocates one page of guest-physical memory, attributing the
// request to req.World and req.PPN for color/affinity derivation (spec
// §4.4 alloc_vm_page).
func (c *Context) AllocVMPage(req AllocRequest) (MPN, error) {
	req.NumPages = 1
	mpn, _, _, _, err := c.allocOnce(req.toInternal(true, false))
	return mpn, err
}

// AllocUserPage allocates one page for a user-mode world, identical in
// policy and accounting to AllocVMPage (both are charged as non-kernel)
// (spec §4.4 alloc_user_page).
func (c *Context) AllocUserPage(req AllocRequest) (MPN, error) {
	req.NumPages = 1
	mpn, _, _, _, err := c.allocOnce(req.toInternal(true, false))
	return mpn, err
}

// AllocPageRange serves the diagnostic/bulk range API directly from a
// single buddy rather than through the color-walk cascade (spec §4.4
// alloc_page_range, §6 Buddy.AllocateRange).
func (c *Context) AllocPageRange(node NodeID, zone Zone, startHint uint64) (MPN, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateReady {
		return 0, 0, errs.New(errs.InvalidMemMap, "AllocPageRange called outside steady state")
	}
	if int(node) < 0 || int(node) >= c.numNodes {
		return 0, 0, errs.New(errs.BadParam, "node out of range")
	}
	n := c.nodes[node]
	h := n.BuddyLow
	has := n.hasLow
	if zone == High {
		h, has = n.BuddyHigh, n.hasHigh
	}
	if !has {
		return 0, 0, errs.New(errs.OutOfMemory, "node has no buddy for the requested zone")
	}
	mpn, numPages, ok := c.bud.AllocateRange(h, startHint)
	if !ok {
		return 0, 0, errs.New(errs.OutOfMemory, "no contiguous range available")
	}
	isLow := zone != High
	c.decrement(node, uint64(numPages), isLow, false)
	c.schedr.OnFreePagesChange(c.unusedPages())
	return MPN(mpn), numPages, nil
}

// freePagesAt is the shared free-path implementation: look up which (node,
// zone) a live MPN belongs to, release it back to the buddy, and credit
// the counters (spec §4.4 free_kernel_pages/free_vm_page/free_user_page).
func (c *Context) freePagesAt(mpn MPN, isKernel bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateReady {
		return errs.New(errs.InvalidMemMap, "free called outside steady state")
	}
	node, high, h, ok := c.locate(mpn)
	if !ok {
		return errs.New(errs.BadParam, "mpn is not a live allocation in any buddy")
	}
	numPages := c.bud.GetLocSize(h, uint64(mpn))
	if numPages == 0 {
		return errs.New(errs.BadParam, "mpn is not a live allocation's start")
	}
	c.bud.Free(h, uint64(mpn))
	c.increment(node, uint64(numPages), !high, isKernel)
	if c.ioprot != nil {
		c.ioprot.MarkFreed(mpn, numPages)
	}
	c.schedr.OnFreePagesChange(c.unusedPages())
	return nil
}

// locate finds which node/zone buddy handle owns mpn: the topology gives
// the node, the 4GB boundary gives the zone (spec §4.5 free path — the
// caller doesn't name the node, the allocator derives it).
func (c *Context) locate(mpn MPN) (node NodeID, high bool, h buddy.Handle, ok bool) {
	n := c.topo.MPNToNode(uint64(mpn))
	if n < 0 || n >= c.numNodes {
		return 0, false, 0, false
	}
	node = NodeID(n)
	high = uint64(mpn) >= c.fourGBMPN
	nd := c.nodes[node]
	if high {
		if !nd.hasHigh {
			return 0, false, 0, false
		}
		return node, true, nd.BuddyHigh, true
	}
	if !nd.hasLow {
		return 0, false, 0, false
	}
	return node, false, nd.BuddyLow, true
}

// FreeKernelPages frees a kernel allocation.
func (c *Context) FreeKernelPages(mpn MPN) error { return c.freePagesAt(mpn, true) }

// FreeVMPage frees a guest-physical page.
func (c *Context) FreeVMPage(mpn MPN) error { return c.freePagesAt(mpn, false) }

// FreeUserPage frees a user-mode page.
func (c *Context) FreeUserPage(mpn MPN) error { return c.freePagesAt(mpn, false) }

// FreePageRange frees a block previously returned by AllocPageRange.
func (c *Context) FreePageRange(mpn MPN) error { return c.freePagesAt(mpn, false) }
