// Package ramtest defines the physical-memory self-test collaborator range
// ingest runs over every BIOS range before trusting it (spec §4.1). Real
// hardware probing (write/read-back a rotating pattern) has no meaning in a
// library running on top of the host's already-tested RAM, so this is an
// injectable interface like numa.Topology and mtrr.Oracle.
package ramtest

import "memmap/buddy"

// Tester scans r and reports which MPNs failed. checkEveryWord mirrors
// spec §4.1's depth knob (exhaustive word-by-word vs. sparse-then-narrow);
// simulated testers may ignore it.
type Tester interface {
	Scan(r buddy.Range, checkEveryWord bool) (bad map[uint64]bool)
}

// AlwaysGood fails nothing, for tests and the demo command.
type AlwaysGood struct{}

func (AlwaysGood) Scan(buddy.Range, bool) map[uint64]bool { return nil }

// Bad fails exactly the listed MPNs, for exercising ingest's rejection and
// re-coalescing path (spec §8 scenario 5).
type Bad struct {
	MPNs map[uint64]bool
}

func (b Bad) Scan(buddy.Range, bool) map[uint64]bool { return b.MPNs }
