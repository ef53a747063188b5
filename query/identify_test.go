package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/janelia-flyem/densityserver/density"
)

func TestIdentifyBlocksNonPeriodic(t *testing.T) {
	count := density.Grid{10, 10, 10}
	q := density.GridBox{A: density.Grid{3, 0, 7}, B: density.Grid{5, 2, 10}}
	got := IdentifyBlocks(count, 4, q, false)
	want := []UniqueBlock{
		{Coord: density.BlockCoord{0, 0, 1}, Shifts: []density.Grid{{}}},
		{Coord: density.BlockCoord{1, 0, 1}, Shifts: []density.Grid{{}}},
		{Coord: density.BlockCoord{0, 0, 2}, Shifts: []density.Grid{{}}},
		{Coord: density.BlockCoord{1, 0, 2}, Shifts: []density.Grid{{}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if blocks := IdentifyBlocks(count, 4, density.GridBox{}, false); len(blocks) != 0 {
		t.Errorf("expected no blocks for empty box")
	}
}

func TestIdentifyBlocksPeriodic(t *testing.T) {
	count := density.Grid{10, 10, 10}
	// Covers samples -12..-9 on x, which wrap twice around.
	q := density.GridBox{A: density.Grid{-12, 0, 0}, B: density.Grid{12, 1, 1}}
	got := IdentifyBlocks(count, 4, q, true)
	if len(got) != 3 {
		t.Fatalf("expected every x block once, got %d: %+v", len(got), got)
	}
	for _, b := range got {
		if b.Coord[1] != 0 || b.Coord[2] != 0 {
			t.Errorf("unexpected block %v", b.Coord)
		}
		if len(b.Shifts) < 2 {
			t.Errorf("block %v expected at several shifts, got %v", b.Coord, b.Shifts)
		}
	}
	if got[0].Coord[0] != 0 || got[2].Coord[0] != 2 {
		t.Errorf("blocks not sorted: %+v", got)
	}
}

func TestComposeBlock(t *testing.T) {
	// A 2x2x1 block at the origin of a 4x4x1 level composed at shift 0 and shift 4 on x.
	block := []float64{1, 2, 3, 4}
	bbox := density.GridBox{B: density.Grid{2, 2, 1}}
	q := density.GridBox{A: density.Grid{1, 0, 0}, B: density.Grid{6, 2, 1}}
	dst := make([]float64, q.Volume())
	composeBlock(dst, q, block, bbox, []density.Grid{{}, {4, 0, 0}})
	want := []float64{2, 0, 0, 1, 2, 4, 0, 0, 3, 4}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Errorf("composition mismatch (-want +got):\n%s", diff)
	}
}
