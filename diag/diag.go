// Package diag turns a memmap.Snapshot into a pprof heap-style profile, so
// the same tooling operators already use to inspect Go heap profiles
// (go tool pprof) can render MemMap's page accounting: one sample per
// node, valued by pages free/reserved/kernel-owned.
package diag

import (
	"io"
	"strconv"
	"time"

	"memmap"

	"github.com/google/pprof/profile"
)

// WriteProfile renders snap as a pprof profile and writes its gzip-encoded
// wire format to w (profile.Write does the gzip). Samples are per-node;
// value units are pages.
func WriteProfile(w io.Writer, snap memmap.Snapshot, sampledAt time.Time) error {
	freeIdx := &profile.ValueType{Type: "free", Unit: "pages"}
	reservedIdx := &profile.ValueType{Type: "reserved_low", Unit: "pages"}
	kernelIdx := &profile.ValueType{Type: "kernel", Unit: "pages"}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{freeIdx, reservedIdx, kernelIdx},
		TimeNanos:  sampledAt.UnixNano(),
		Comments: []string{
			"memmap page accounting snapshot",
		},
	}

	nodeFn := &profile.Function{ID: 1, Name: "node"}
	p.Function = []*profile.Function{nodeFn}

	for i, n := range snap.Nodes {
		loc := &profile.Location{
			ID: uint64(i + 1),
			Line: []profile.Line{
				{Function: nodeFn, Line: int64(n.ID)},
			},
		}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(n.FreePages), int64(n.ReservedLow), int64(n.KernelPages)},
			Label: map[string][]string{
				"node": {nodeLabel(n.ID)},
			},
		})
	}

	return p.Write(w)
}

func nodeLabel(id memmap.NodeID) string {
	return "node-" + strconv.Itoa(int(id))
}
