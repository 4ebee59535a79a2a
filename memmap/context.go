package memmap

import (
	"io"
	"sync"

	"memmap/buddy"
	"memmap/config"
	"memmap/errs"
	"memmap/mtrr"
	"memmap/numa"
	"memmap/ramtest"
	"memmap/sched"
	"memmap/vmap"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// colorTableEntryBytes is how much per-color bookkeeping one buddy color
// slot costs the scoped mapping window (spec §9 color-count open
// question); kept here rather than in colors.go since it is a property of
// this package's own DynRangeInfo usage, not of the buddy interface.
const colorTableEntryBytes = 64

// IOPermissionSink receives allocation/free notifications so a
// debug-build I/O permission map (spec §4.6, C6) can stay in sync. nil is
// a valid Context field: production builds carry no sink.
type IOPermissionSink interface {
	MarkAllocated(mpn MPN, numPages uint32)
	MarkFreed(mpn MPN, numPages uint32)
}

// Context is the MemMap singleton (spec §3). One process constructs
// exactly one via BeginBoot/FinishBoot.
type Context struct {
	mu       sync.Mutex // memmap_lock: every live counter and node bitmask
	hotAddMu sync.Mutex // hot_mem_add_lock: ranks above mu (always taken first)

	st state

	cfg config.Tunables
	log *logrus.Logger

	numColors     uint32
	log2NumColors uint

	numNodes               int
	firstMPN, lastValidMPN MPN

	totalPages, totalLowPages, initFreePages uint64
	freePages, freeLowPages, kernelPages     uint64
	reservedLowPages                         uint64

	nodes []*Node

	validNodes, freeLowNodes, freeHighNodes, freeReservedNodes uint64

	nextNode        NodeID
	nextKernelColor Color

	totalBiosPages, discardedPages, kernelUsePages, managedPages uint64

	totalGoodAllocs, totalColorNodeLookups uint64

	topo   numa.Topology
	cach   mtrr.Oracle
	tester ramtest.Tester
	mapper vmap.Mapper
	bud    buddy.Buddy
	schedr sched.Scheduler
	ioprot IOPermissionSink

	consumers []CriticalConsumer

	// early-boot-only working state; cleared once FinishBoot succeeds.
	earlyAvail []*availRange
	fourGBMPN  uint64
	earlySem   *semaphore.Weighted
}

// BeginBoot implements the first half of the two-phase boot sequence
// (spec §6 "early-boot vs. steady-state dispatch"): run range ingest (C1)
// and leave the Context in stateEarly, ready to serve AllocEarlyPage
// before any buddy exists.
//
// firstMPN/nextMPN mark the sub-range early kernel setup has already
// claimed (spec §6). The 4GB zone boundary (fourGBMPN) is derived from
// config.FourGB and config.PageSize.
func BeginBoot(
	cfg config.Tunables,
	bios []buddy.Range,
	topo numa.Topology,
	cach mtrr.Oracle,
	tester ramtest.Tester,
	log *logrus.Logger,
	firstMPN, nextMPN uint64,
	forceEveryWord bool,
) (*Context, error) {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	perNode, st, err := ingest(bios, topo, cach, tester, forceEveryWord, firstMPN, nextMPN, config.EvilMPN)
	if err != nil {
		return nil, err
	}

	c := &Context{
		cfg:        cfg,
		log:        log,
		numNodes:   topo.NumNodes(),
		topo:       topo,
		cach:       cach,
		tester:     tester,
		schedr:     sched.NopScheduler{},
		earlyAvail: perNode,
		fourGBMPN:  config.FourGB / config.PageSize,

		totalBiosPages: st.totalBios,
		discardedPages: st.discarded,
		kernelUsePages: st.kernelUse,
		managedPages:   st.managed,
	}

	c.earlySem = newEarlySemaphore(c.numNodes)
	c.nodes = make([]*Node, c.numNodes)
	c.firstMPN = MPN(^uint64(0))
	for i := range c.nodes {
		c.nodes[i] = &Node{ID: NodeID(i)}
		setBit(&c.validNodes, NodeID(i), true)
		for _, r := range perNode[i].ranges {
			if MPN(r.Start) < c.firstMPN {
				c.firstMPN = MPN(r.Start)
			}
			if MPN(r.End) > c.lastValidMPN {
				c.lastValidMPN = MPN(r.End)
			}
		}
	}

	c.st = stateEarly
	return c, nil
}

// FinishBoot implements the second half of boot (spec §4.2, §4.3, §4.5):
// reserve every critical consumer's metadata, hand the survivors to the
// pool builder, fold the results into per-node and system counters,
// proportion the low-memory reserve, and transition to stateReady.
func (c *Context) FinishBoot(
	consumers []CriticalConsumer,
	bud buddy.Buddy,
	mapper vmap.Mapper,
	schedr sched.Scheduler,
	ioprot IOPermissionSink,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateEarly {
		return errs.New(errs.InvalidMemMap, "FinishBoot called outside early boot")
	}

	if err := reserveCritical(c.earlyAvail, consumers, uint64(c.firstMPN), uint64(c.lastValidMPN), false, &c.kernelUsePages); err != nil {
		return err
	}
	var criticalPages uint64
	for _, a := range c.earlyAvail {
		criticalPages += a.totalPages()
	}
	// managedPages must still satisfy I9 (total_bios == discarded +
	// kernel_use + managed) after critical reservation moves pages from
	// managed to kernel_use.
	c.managedPages = criticalPages

	colors, err := DeriveNumColors(mapper.WindowPages(), colorTableEntryBytes)
	if err != nil {
		return err
	}
	c.numColors = colors
	c.log2NumColors = log2(colors)
	c.nextKernelColor = Color(colors / 2)

	results, err := poolBuild(c.earlyAvail, c.nodes, bud, mapper, colors, c.fourGBMPN)
	if err != nil {
		return err
	}

	var nodeOverheadPages uint64
	for i, r := range results {
		n := c.nodes[i]
		n.TotalLowPages = r.lowPages
		n.TotalPages = r.lowPages + r.highPages
		n.FreeLowPages = r.lowPages
		n.FreePages = n.TotalPages
		n.KernelPages = r.overheadPages

		c.totalPages += n.TotalPages
		c.totalLowPages += n.TotalLowPages
		nodeOverheadPages += r.overheadPages
		setBit(&c.validNodes, NodeID(i), n.TotalPages > 0)
	}
	c.freePages = c.totalPages
	c.freeLowPages = c.totalLowPages
	// kernel_pages only ever counts buddy overhead living inside a node
	// (Σ node[i].KernelPages, see hotadd.go's fold) — early-consumed and
	// critical-reservation pages never belong to any node's buddy and stay
	// out of it, even though they're already in kernel_use_pages.
	c.kernelPages = nodeOverheadPages
	c.initFreePages = c.freePages

	c.bud = bud
	c.mapper = mapper
	c.ioprot = ioprot
	c.consumers = consumers
	if schedr != nil {
		c.schedr = schedr
	}

	c.proportionReserve()

	c.earlyAvail = nil
	c.st = stateReady

	c.log.WithFields(logrus.Fields{
		"total_pages":     c.totalPages,
		"total_low_pages": c.totalLowPages,
		"kernel_pages":    c.kernelPages,
		"num_colors":      c.numColors,
		"num_nodes":       c.numNodes,
	}).Info("memmap: boot complete")
	return nil
}
