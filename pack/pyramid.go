package pack

import (
	"fmt"
	"io"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
)

// pyramid streams the slices of the finest level through every coarser level, writing
// blocks as soon as each slab is complete.
type pyramid struct {
	levels []*level
	writer blockWriter
}

// newPyramid lays out the levels with the given counts back to back from dataOffset.
func newPyramid(out io.WriterAt, counts []density.Grid, dataOffset int64, channels, blockSize int, vt density.ValueType) *pyramid {
	p := &pyramid{writer: blockWriter{out: out, blockSize: blockSize, valueType: vt}}
	offset := dataOffset
	for i, count := range counts {
		p.levels = append(p.levels, newLevel(i, count, offset, channels, blockSize))
		offset += format.LevelByteSize(channels, count, vt)
	}
	for i := 0; i+1 < len(p.levels); i++ {
		l := p.levels[i]
		l.next = p.levels[i+1]
		l.down = newDownsampler(channels, l.count, l.next.count)
	}
	return p
}

// add feeds one slice per channel into the finest level.
func (p *pyramid) add(slice [][]float64) error {
	return p.push(p.levels[0], slice)
}

func (p *pyramid) push(l *level, slice [][]float64) error {
	if l.received >= l.count[2] {
		return fmt.Errorf("level %d received more than %d slices", l.index, l.count[2])
	}
	size := l.count[0] * l.count[1]
	for c, values := range slice {
		copy(l.slab[c][l.slices*size:(l.slices+1)*size], values)
	}
	l.slices++
	l.received++

	if l.down != nil {
		l.down.add(slice)
		for l.down.ready(false) {
			if err := p.push(l.next, l.down.reduce()); err != nil {
				return err
			}
		}
	}
	if l.slices == p.writer.blockSize {
		return p.writer.writeSlab(l)
	}
	return nil
}

// finish flushes the kernel tails and partial slabs of every level, finest first.
func (p *pyramid) finish() error {
	for _, l := range p.levels {
		if l.down != nil {
			for l.down.ready(true) {
				if err := p.push(l.next, l.down.reduce()); err != nil {
					return err
				}
			}
		}
		if err := p.writer.writeSlab(l); err != nil {
			return err
		}
		if l.received != l.count[2] {
			return fmt.Errorf("level %d received %d slices, expected %d", l.index, l.received, l.count[2])
		}
	}
	return nil
}

// sampling returns the level descriptors with their final statistics.
func (p *pyramid) sampling() []format.Sampling {
	out := make([]format.Sampling, len(p.levels))
	for i, l := range p.levels {
		info := make([]format.ValuesInfo, len(l.stats))
		for c := range l.stats {
			info[c] = l.stats[c].info()
		}
		out[i] = format.Sampling{
			ByteOffset:  l.offset,
			Rate:        1 << i,
			ValuesInfo:  info,
			SampleCount: l.count,
		}
	}
	return out
}
