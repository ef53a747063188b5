/*
Package source defines how density maps are fed to the packer.  A Source exposes the
map header and streams the samples one chunk of slices at a time, slowest storage axis
outermost.
*/
package source

import (
	"fmt"

	"github.com/janelia-flyem/densityserver/density"
)

// Header describes a source map.  Extent and Origin are in storage axis order, Grid is
// the number of samples per unit cell along the crystallographic axes x, y, z.
type Header struct {
	Name             string
	Grid             density.Grid
	AxisOrder        density.AxisOrder
	Extent           density.Grid
	Origin           density.Grid
	SpacegroupNumber int
	CellSize         [3]float64
	CellAngles       [3]float64 // degrees
	LittleEndian     bool
	DataOffset       int64
	ValueType        density.ValueType
}

// SliceSize returns the number of samples in one slice.
func (h Header) SliceSize() int {
	return h.Extent[0] * h.Extent[1]
}

// Validate checks the header describes a map the packer can handle.
func (h Header) Validate() error {
	if !h.ValueType.Valid() {
		return fmt.Errorf("%s: %w: %s", h.Name, density.ErrUnsupportedValueType, h.ValueType)
	}
	if !h.AxisOrder.Valid() {
		return fmt.Errorf("%s: %w: bad axis order %v", h.Name, density.ErrFormat, h.AxisOrder)
	}
	for i := 0; i < 3; i++ {
		if h.Extent[i] <= 0 || h.Grid[i] <= 0 {
			return fmt.Errorf("%s: %w: extent %v and grid %v must be positive", h.Name, density.ErrFormat, h.Extent, h.Grid)
		}
		if h.CellSize[i] <= 0 {
			return fmt.Errorf("%s: %w: bad cell size %v", h.Name, density.ErrFormat, h.CellSize)
		}
	}
	return nil
}

// Compatible returns an error if two channel headers cannot be packed together.
func (h Header) Compatible(o Header) error {
	if h.Grid != o.Grid || h.Extent != o.Extent || h.Origin != o.Origin ||
		h.AxisOrder != o.AxisOrder || h.ValueType != o.ValueType ||
		h.SpacegroupNumber != o.SpacegroupNumber ||
		h.CellSize != o.CellSize || h.CellAngles != o.CellAngles {
		return fmt.Errorf("%w: headers of channels %q and %q are not compatible", density.ErrFormat, h.Name, o.Name)
	}
	return nil
}

// Slices is a chunk of consecutive slices read from a Source.
type Slices struct {
	// Values holds SliceCount slices of SliceSize samples each.
	Values []float64

	// SliceCount is the number of slices held in Values.
	SliceCount int

	// IsFinished is set once the last slice has been read.
	IsFinished bool
}

// Slice returns slice i of the chunk.
func (s *Slices) Slice(i, sliceSize int) []float64 {
	return s.Values[i*sliceSize : (i+1)*sliceSize]
}

// Source is a density map being read for packing.
type Source interface {
	Header() Header

	// ReadSlices fills buf with the next chunk of slices.  Calling it after IsFinished
	// has been set is an error.
	ReadSlices(buf *Slices) error

	Close() error
}

// Memory is a Source over samples held in memory.
type Memory struct {
	header   Header
	values   []float64
	perRead  int
	nextRead int
}

// NewMemory returns a Source over values, which must hold Extent[2] slices, returning at
// most perRead slices per ReadSlices call.
func NewMemory(h Header, values []float64, perRead int) (*Memory, error) {
	if want := h.Extent.Volume(); int64(len(values)) != want {
		return nil, fmt.Errorf("%w: expected %d values for extent %v, got %d", density.ErrFormat, want, h.Extent, len(values))
	}
	if perRead < 1 {
		perRead = 1
	}
	return &Memory{header: h, values: values, perRead: perRead}, nil
}

func (m *Memory) Header() Header { return m.header }

func (m *Memory) ReadSlices(buf *Slices) error {
	n := m.header.Extent[2]
	if m.nextRead >= n {
		return fmt.Errorf("source %q already finished", m.header.Name)
	}
	count := min(m.perRead, n-m.nextRead)
	size := m.header.SliceSize()
	buf.Values = append(buf.Values[:0], m.values[m.nextRead*size:(m.nextRead+count)*size]...)
	buf.SliceCount = count
	m.nextRead += count
	buf.IsFinished = m.nextRead >= n
	return nil
}

func (m *Memory) Close() error { return nil }
