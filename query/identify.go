package query

import (
	"sort"

	"github.com/janelia-flyem/densityserver/density"
)

// UniqueBlock is a block needed by a query.  For periodic data the same block may
// appear at several places in the query box; each Shift moves block samples into query
// grid coordinates.
type UniqueBlock struct {
	Coord  density.BlockCoord
	Shifts []density.Grid
}

// GridBox converts a fractional query box to the samples of a level, one extra sample
// on every side.  Non-periodic boxes are clamped to the level.
func GridBox(d density.Domain, box density.FractionalBox, periodic bool) density.GridBox {
	g := d.GridBox(box).Expand(1)
	if !periodic {
		g = g.Clamp(d.SampleCount)
	}
	return g
}

// IdentifyBlocks returns the blocks of a level with the given sample count that hold
// samples of the grid box q, sorted with the slowest axis first.  Periodic boxes wrap
// around the level; non-periodic boxes must already lie within it.
func IdentifyBlocks(count density.Grid, blockSize int, q density.GridBox, periodic bool) []UniqueBlock {
	if q.Empty() {
		return nil
	}
	var lo, hi density.Grid
	for i := 0; i < 3; i++ {
		if periodic {
			lo[i] = density.FloorDiv(q.A[i], count[i])
			hi[i] = density.FloorDiv(q.B[i]-1, count[i])
		}
	}
	level := density.GridBox{B: count}
	found := make(map[density.BlockCoord]*UniqueBlock)
	for tz := lo[2]; tz <= hi[2]; tz++ {
		for ty := lo[1]; ty <= hi[1]; ty++ {
			for tx := lo[0]; tx <= hi[0]; tx++ {
				shift := density.Grid{tx * count[0], ty * count[1], tz * count[2]}
				sub := q.Translate(density.Grid{}.Sub(shift)).Intersect(level)
				if sub.Empty() {
					continue
				}
				addBlocks(found, sub, blockSize, shift)
			}
		}
	}
	blocks := make([]UniqueBlock, 0, len(found))
	for _, b := range found {
		blocks = append(blocks, *b)
	}
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i].Coord, blocks[j].Coord
		if a[2] != b[2] {
			return a[2] < b[2]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})
	return blocks
}

func addBlocks(found map[density.BlockCoord]*UniqueBlock, sub density.GridBox, blockSize int, shift density.Grid) {
	for w := sub.A[2] / blockSize; w <= (sub.B[2]-1)/blockSize; w++ {
		for v := sub.A[1] / blockSize; v <= (sub.B[1]-1)/blockSize; v++ {
			for u := sub.A[0] / blockSize; u <= (sub.B[0]-1)/blockSize; u++ {
				c := density.BlockCoord{u, v, w}
				b, ok := found[c]
				if !ok {
					b = &UniqueBlock{Coord: c}
					found[c] = b
				}
				b.Shifts = append(b.Shifts, shift)
			}
		}
	}
}

// composeBlock copies the samples of one channel of a block into the query buffer dst,
// laid out over the grid box q, at every shift of the block.
func composeBlock(dst []float64, q density.GridBox, block []float64, bbox density.GridBox, shifts []density.Grid) {
	qs := q.Size()
	bs := bbox.Size()
	for _, shift := range shifts {
		region := bbox.Intersect(q.Translate(density.Grid{}.Sub(shift)))
		if region.Empty() {
			continue
		}
		width := region.B[0] - region.A[0]
		for l := region.A[2]; l < region.B[2]; l++ {
			for k := region.A[1]; k < region.B[1]; k++ {
				src := (l-bbox.A[2])*bs[0]*bs[1] + (k-bbox.A[1])*bs[0] + (region.A[0] - bbox.A[0])
				dl := l + shift[2] - q.A[2]
				dk := k + shift[1] - q.A[1]
				dh := region.A[0] + shift[0] - q.A[0]
				dstIdx := dl*qs[0]*qs[1] + dk*qs[0] + dh
				copy(dst[dstIdx:dstIdx+width], block[src:src+width])
			}
		}
	}
}
