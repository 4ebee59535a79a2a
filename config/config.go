// Package config holds the tunables the MemMap is configured with at boot.
//
// The configuration subsystem itself is an external collaborator (spec §1);
// this package only defines the shape of what it hands the allocator and a
// convenience loader for standalone harnesses.
package config

import "github.com/BurntSushi/toml"

// PageSize is the machine page size in bytes. It is a compile-time
// constant; the allocator never changes it at runtime.
const PageSize = 4096

// FourGB is the low/high zone boundary in bytes.
const FourGB = 1 << 32

// EvilMPN is the forbidden page at physical address 1GB (spec §4.1/§8 P3).
const EvilMPN = (1 << 30) / PageSize

// Tunables mirrors spec.md §6's configuration-constants table.
type Tunables struct {
	// ReserveLowPct is the percent of initial free pages reserved for
	// DMA-restricted devices.
	ReserveLowPct uint32
	// MinFreeHighPages is the threshold below which zone=Any falls back
	// to Low.
	MinFreeHighPages uint32
	// HighWatermark is the free_low_pages threshold above which zone=Any
	// is recommended Low instead of High.
	HighWatermark uint32
	// MinBufPages / MaxBufPages bound a single buddy's pull size.
	MinBufPages uint32
	MaxBufPages uint32
	// MaxLowLenBytes / MaxHighLenBytes bound how large a single buddy may
	// ever grow.
	MaxLowLenBytes  uint64
	MaxHighLenBytes uint64
	// MinHotaddLenBytes is the minimum hot-add buddy block granularity.
	MinHotaddLenBytes uint64
}

// Default returns the "typical" values from spec.md §6.
func Default() Tunables {
	return Tunables{
		ReserveLowPct:     1,
		MinFreeHighPages:  128,
		HighWatermark:     512,
		MinBufPages:       1,
		MaxBufPages:       64 * (1 << 20) / PageSize,
		MaxLowLenBytes:    4 << 30,
		MaxHighLenBytes:   64 << 30,
		MinHotaddLenBytes: 64 << 20,
	}
}

// LoadTOML parses a Tunables struct out of a TOML file. It is a convenience
// for test harnesses and demo commands; production boot paths receive a
// Tunables value directly from the real configuration subsystem.
func LoadTOML(path string) (Tunables, error) {
	t := Default()
	_, err := toml.DecodeFile(path, &t)
	if err != nil {
		return Tunables{}, err
	}
	return t, nil
}
