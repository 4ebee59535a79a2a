// Package sched defines the scheduler collaborator consumed by the policy
// engine (spec §4.4, §6) and the World type allocations are attributed to.
package sched

import "sync/atomic"

// World is a VM or user-mode world the allocator services pages for. A nil
// *World means a kernel allocation throughout this repo, matching spec
// §6's "world (nil for kernel allocations)".
type World struct {
	ID int

	dying      atomic.Bool
	checkpoint atomic.Bool

	// AffinityMask is this world's per-VM NUMA affinity mask, consulted
	// by the policy engine when use_affinity is set.
	AffinityMask uint64

	// AllowAllColors and Colors implement the "allowed_colors(world)"
	// collaborator output: either every color is usable, or only Colors
	// is.
	AllowAllColors bool
	Colors         []uint32
}

// MarkDying flags the world as dying, which cancels any in-flight waiting
// allocation for it (spec §4.4's waiting variant, §5 cancellation).
func (w *World) MarkDying() { w.dying.Store(true) }

// IsDying reports whether MarkDying has been called.
func (w *World) IsDying() bool { return w.dying.Load() }

// BeginCheckpoint flags that a checkpoint has started for the world, which
// also cancels any in-flight waiting allocation.
func (w *World) BeginCheckpoint() { w.checkpoint.Store(true) }

// EndCheckpoint clears the checkpoint flag.
func (w *World) EndCheckpoint() { w.checkpoint.Store(false) }

// CheckpointStarting reports whether a checkpoint is in progress.
func (w *World) CheckpointStarting() bool { return w.checkpoint.Load() }

// Scheduler is the notification/query hook the MemMap calls into.
type Scheduler interface {
	// MemoryIsLow reports the scheduler's own opinion of memory
	// pressure (spec §6). The memmap package does not call it.
	MemoryIsLow() bool

	// OnFreePagesChange is invoked under the MemMap lock after every
	// counter update on the allocation and free paths (spec §4.4, §6).
	OnFreePagesChange(unusedPages uint64)
}

// NopScheduler is a Scheduler that does nothing, for tests and the demo
// command.
type NopScheduler struct{}

func (NopScheduler) MemoryIsLow() bool             { return false }
func (NopScheduler) OnFreePagesChange(uint64) {}
