/*
Package ccp4 reads CCP4 and MRC density maps as a source.Source.
*/
package ccp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/source"
)

const (
	headerSize = 1024

	// DefaultReadBytes is the approximate number of sample bytes read per ReadSlices call.
	DefaultReadBytes = 8 * 1024 * 1024
)

// word offsets (0-based, 4 bytes each) within the 1024 byte header
const (
	wNC      = 0
	wMode    = 3
	wNCStart = 4
	wNX      = 7
	wCell    = 10
	wMapC    = 16
	wISPG    = 22
	wNSymBT  = 23
	wOrigin  = 49
	wMap     = 52
)

// Reader is an open CCP4/MRC map.
type Reader struct {
	f         *os.File
	header    source.Header
	order     binary.ByteOrder
	perRead   int
	sliceRead int
	raw       []byte
}

// Open reads the header of the map at path.  The file stays open until Close.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// NewReader parses the header from f and takes ownership of it.
func NewReader(f *os.File, name string) (*Reader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, headerSize), buf); err != nil {
		return nil, fmt.Errorf("%w: could not read map header: %v", density.ErrFormat, err)
	}
	h, order, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	h.Name = name
	r := &Reader{f: f, header: h, order: order}
	r.SetReadBytes(DefaultReadBytes)
	return r, nil
}

// ParseHeader decodes a 1024 byte CCP4/MRC header.
func ParseHeader(buf []byte) (source.Header, binary.ByteOrder, error) {
	var h source.Header
	if len(buf) < headerSize {
		return h, nil, fmt.Errorf("%w: header too short", density.ErrFormat)
	}
	if !bytes.Equal(buf[wMap*4:wMap*4+4], []byte("MAP ")) {
		return h, nil, fmt.Errorf("%w: missing MAP stamp", density.ErrFormat)
	}
	var order binary.ByteOrder = binary.LittleEndian
	mode := int32(order.Uint32(buf[wMode*4:]))
	if mode < 0 || mode > 16 || order.Uint32(buf[wNC*4:]) >= 1<<24 {
		order = binary.BigEndian
		mode = int32(order.Uint32(buf[wMode*4:]))
	}
	h.LittleEndian = order == binary.LittleEndian

	word := func(i int) int { return int(int32(order.Uint32(buf[i*4:]))) }
	float := func(i int) float64 { return float64(math.Float32frombits(order.Uint32(buf[i*4:]))) }

	switch mode {
	case 0:
		h.ValueType = density.Int8
	case 1:
		h.ValueType = density.Int16
	case 2:
		h.ValueType = density.Float32
	case 6:
		h.ValueType = density.Uint16
	default:
		return h, nil, fmt.Errorf("%w: map mode %d", density.ErrUnsupportedValueType, mode)
	}

	for i := 0; i < 3; i++ {
		h.Extent[i] = word(wNC + i)
		h.Origin[i] = word(wNCStart + i)
		h.Grid[i] = word(wNX + i)
		h.CellSize[i] = float(wCell + i)
		h.CellAngles[i] = float(wCell + 3 + i)
		h.AxisOrder[i] = word(wMapC+i) - 1
	}
	h.SpacegroupNumber = word(wISPG)
	h.DataOffset = headerSize + int64(word(wNSymBT))

	// MRC files may carry the origin in Angstroms instead of grid start indices.
	if h.Origin == (density.Grid{}) && h.AxisOrder.Valid() && h.Grid[0] > 0 && h.Grid[1] > 0 && h.Grid[2] > 0 {
		for i := 0; i < 3; i++ {
			axis := h.AxisOrder[i]
			spacing := h.CellSize[axis] / float64(h.Grid[axis])
			if o := float(wOrigin + axis); o != 0 && spacing > 0 {
				h.Origin[i] = int(math.Round(o / spacing))
			}
		}
	}
	if err := h.Validate(); err != nil {
		return h, nil, err
	}
	return h, order, nil
}

// SetReadBytes sets the approximate number of bytes read per ReadSlices call.
func (r *Reader) SetReadBytes(n int) {
	sliceBytes := r.header.SliceSize() * r.header.ValueType.Size()
	r.perRead = max(1, n/sliceBytes)
}

func (r *Reader) Header() source.Header {
	return r.header
}

func (r *Reader) ReadSlices(buf *source.Slices) error {
	h := r.header
	if r.sliceRead >= h.Extent[2] {
		return fmt.Errorf("map %q already finished", h.Name)
	}
	count := min(r.perRead, h.Extent[2]-r.sliceRead)
	sliceSize := h.SliceSize()
	elem := h.ValueType.Size()
	n := count * sliceSize * elem
	if cap(r.raw) < n {
		r.raw = make([]byte, n)
	}
	raw := r.raw[:n]
	off := h.DataOffset + int64(r.sliceRead)*int64(sliceSize*elem)
	if _, err := r.f.ReadAt(raw, off); err != nil {
		return fmt.Errorf("map %q: reading slices %d-%d: %w", h.Name, r.sliceRead, r.sliceRead+count-1, err)
	}
	if !h.LittleEndian && elem > 1 {
		swapBytes(raw, elem)
	}
	if cap(buf.Values) < count*sliceSize {
		buf.Values = make([]float64, count*sliceSize)
	}
	buf.Values = buf.Values[:count*sliceSize]
	h.ValueType.Decode(buf.Values, raw)
	buf.SliceCount = count
	r.sliceRead += count
	buf.IsFinished = r.sliceRead >= h.Extent[2]
	return nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}

func swapBytes(b []byte, size int) {
	for i := 0; i+size <= len(b); i += size {
		for j, k := i, i+size-1; j < k; j, k = j+1, k-1 {
			b[j], b[k] = b[k], b[j]
		}
	}
}
