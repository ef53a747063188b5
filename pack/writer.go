package pack

import (
	"fmt"
	"io"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
)

// level holds the slices of one pyramid level until a full slab of blocks can be
// written.
type level struct {
	index  int
	count  density.Grid
	offset int64 // file offset of the level's first block

	slab     [][]float64 // per channel, up to blockSize slices
	slices   int         // slices held in slab
	slabs    int         // slabs written
	received int         // slices received in total
	cursor   int64       // bytes written, relative to offset

	stats []accumulator
	down  *downsampler
	next  *level
}

func newLevel(index int, count density.Grid, offset int64, channels, blockSize int) *level {
	l := &level{
		index:  index,
		count:  count,
		offset: offset,
		slab:   make([][]float64, channels),
		stats:  make([]accumulator, channels),
	}
	for c := 0; c < channels; c++ {
		l.slab[c] = make([]float64, count[0]*count[1]*blockSize)
		l.stats[c] = newAccumulator()
	}
	return l
}

// blockWriter writes the slabs of every level into the output file.
type blockWriter struct {
	out       io.WriterAt
	blockSize int
	valueType density.ValueType
	buf       []byte
}

// writeSlab writes the slices held by l as one row of blocks along the slowest axis.
// Blocks are written row by row, fastest axis innermost, each block holding every
// channel in turn.
func (bw *blockWriter) writeSlab(l *level) error {
	if l.slices == 0 {
		return nil
	}
	bs := bw.blockSize
	n0, n1 := l.count[0], l.count[1]
	sliceSize := n0 * n1
	for c := range l.slab {
		values := l.slab[c][:l.slices*sliceSize]
		for i, x := range values {
			values[i] = bw.valueType.Round(x)
		}
		l.stats[c].add(values)
	}

	elem := bw.valueType.Size()
	channels := len(l.slab)
	nBlocks := format.BlockCount(l.count, bs)
	dL := l.slices
	for v := 0; v < nBlocks[1]; v++ {
		dK := min(bs, n1-v*bs)
		for u := 0; u < nBlocks[0]; u++ {
			dH := min(bs, n0-u*bs)
			coord := density.BlockCoord{u, v, l.slabs}
			size := channels * dH * dK * dL * elem
			if cap(bw.buf) < size {
				bw.buf = make([]byte, size)
			}
			buf := bw.buf[:size]
			pos := 0
			for c := 0; c < channels; c++ {
				values := l.slab[c]
				for s := 0; s < dL; s++ {
					for k := v * bs; k < v*bs+dK; k++ {
						row := values[s*sliceSize+k*n0+u*bs : s*sliceSize+k*n0+u*bs+dH]
						for _, x := range row {
							bw.valueType.Put(buf[pos:], x)
							pos += elem
						}
					}
				}
			}
			rel := format.BlockOffset(coord, l.count, bs, channels, bw.valueType)
			if rel != l.cursor {
				return fmt.Errorf("level %d block %v: offset %d does not follow cursor %d", l.index, coord, rel, l.cursor)
			}
			if _, err := bw.out.WriteAt(buf, l.offset+rel); err != nil {
				return fmt.Errorf("writing level %d block %v: %w", l.index, coord, err)
			}
			l.cursor += int64(size)
		}
	}
	l.slabs++
	l.slices = 0
	return nil
}
