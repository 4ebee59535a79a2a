package diag

import (
	"bytes"
	"testing"
	"time"

	"memmap"
)

func TestWriteProfileProducesOutput(t *testing.T) {
	snap := memmap.Snapshot{
		TotalPages: 100,
		FreePages:  80,
		NumNodes:   2,
		Nodes: []memmap.NodeSnapshot{
			{ID: 0, TotalPages: 60, FreePages: 50, ReservedLow: 5, KernelPages: 10},
			{ID: 1, TotalPages: 40, FreePages: 30, ReservedLow: 3, KernelPages: 10},
		},
	}

	var buf bytes.Buffer
	if err := WriteProfile(&buf, snap, time.Unix(0, 0)); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty profile output")
	}
}

func TestWriteProfileEmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteProfile(&buf, memmap.Snapshot{}, time.Unix(0, 0)); err != nil {
		t.Fatalf("WriteProfile on empty snapshot: %v", err)
	}
}
