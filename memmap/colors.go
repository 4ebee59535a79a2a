package memmap

import (
	"memmap/config"
	"memmap/errs"

	"golang.org/x/sys/cpu"
)

// DeriveNumColors picks a power-of-two color count, bounding it so the
// buddies' per-color structures never thrash the scoped-mapping window
// (spec §9's open question: "the exact maximum is derived from the mapping
// window's length... a rewrite must verify this bound with the external
// mapper's capabilities and not guess").
//
// golang.org/x/sys/cpu does not expose raw cache geometry portably, so the
// CPU side of the heuristic uses the widest vector extension present as a
// proxy for cache generation; the mapper-window bound below it is exact,
// not heuristic.
func DeriveNumColors(windowPages uint64, colorTableEntryBytes uint64) (uint32, error) {
	colors := uint32(8)
	switch {
	case cpu.X86.HasAVX512F:
		colors = 64
	case cpu.X86.HasAVX2:
		colors = 32
	case cpu.X86.HasSSE2:
		colors = 16
	}
	windowBytes := windowPages * uint64(config.PageSize)
	for colors > 1 && uint64(colors)*colorTableEntryBytes > windowBytes {
		colors /= 2
	}
	if colors == 0 || uint64(colors)*colorTableEntryBytes > windowBytes {
		return 0, errs.New(errs.InvalidMemMap, "scoped mapping window too small for even one color")
	}
	return colors, nil
}

// nextBitRevOffset advances the bit-reversed counter described in spec
// §4.4: starting at b = 1<<(bits-1), toggle bits from most significant to
// least; the first toggle that turns a bit on terminates the step.
func nextBitRevOffset(n uint32, bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	b := uint32(1) << (bits - 1)
	for n&b != 0 {
		n ^= b
		b >>= 1
	}
	n ^= b
	return n
}

// colorWalk produces the sequence of colors the policy engine tries after
// an initial color, diffusing successive allocations across the cache
// (spec §4.4). color_i = initial XOR bitRevOffset_i, where the offsets
// themselves are the classic bit-reversed counting sequence starting at
// zero; after numColors steps the offset returns to zero (terminal).
type colorWalk struct {
	initial   Color
	offset    uint32
	bits      uint
	numColors uint32
	steps     uint32
}

func newColorWalk(initial Color, numColors uint32) *colorWalk {
	return &colorWalk{
		initial:   initial,
		bits:      log2(numColors),
		numColors: numColors,
	}
}

// Current returns the color to try at the current step without advancing.
func (w *colorWalk) Current() Color {
	return w.initial ^ Color(w.offset)
}

// Done reports whether the walk has tried every color (spec: "after
// num_colors steps the walk returns to zero (terminal)"). steps counts
// completed Advance calls, and the walk has already yielded one color
// (offset zero) before the first Advance, so the terminal step is
// numColors-1, not numColors — otherwise the walk loops around and
// re-yields the initial color a second time before stopping.
func (w *colorWalk) Done() bool {
	if w.numColors == 0 {
		return true
	}
	return w.steps >= w.numColors-1
}

// Advance moves to the next color in the walk.
func (w *colorWalk) Advance() {
	w.offset = nextBitRevOffset(w.offset, w.bits)
	w.steps++
}
