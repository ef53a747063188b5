package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/densityserver/density"
)

// LengthPrefixSize is the size of the header length that starts every packed file.
const LengthPrefixSize = 4

// Encode returns the length-prefixed encoding of the header.
func (h *Header) Encode() ([]byte, error) {
	b := make([]byte, LengthPrefixSize, LengthPrefixSize+h.Msgsize())
	b, err := h.MarshalMsg(b)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(b, uint32(len(b)-LengthPrefixSize))
	return b, nil
}

// Decode reads the header at the start of a packed file of the given size.
func Decode(r io.ReaderAt, size int64) (*Header, error) {
	if size < LengthPrefixSize {
		return nil, fmt.Errorf("%w: file of %d bytes has no header", density.ErrFormat, size)
	}
	var prefix [LengthPrefixSize]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("reading header length: %w", err)
	}
	n := int64(binary.LittleEndian.Uint32(prefix[:]))
	if n == 0 {
		return nil, fmt.Errorf("%w: empty header", density.ErrFormat)
	}
	if n > size-LengthPrefixSize {
		return nil, fmt.Errorf("%w: header of %d bytes in file of %d bytes", density.ErrHeaderTooLarge, n, size)
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, LengthPrefixSize); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	return Unmarshal(buf)
}

// Unmarshal decodes a header without its length prefix and validates it.
func Unmarshal(b []byte) (*Header, error) {
	h := new(Header)
	rest, err := h.UnmarshalMsg(b)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding header: %v", density.ErrFormat, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after header", density.ErrFormat, len(rest))
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// DataOffset returns the file offset of the first block given the encoded header.
func DataOffset(encoded []byte) int64 {
	return int64(len(encoded))
}

// MarshalMsg implements msgp.Marshaler.  Floats are always written as float64 so the
// encoded size does not depend on the statistics.
func (h *Header) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, h.Msgsize())
	o = msgp.AppendMapHeader(o, 9)
	o = msgp.AppendString(o, "formatVersion")
	o = msgp.AppendString(o, h.FormatVersion)
	o = msgp.AppendString(o, "axisOrder")
	o = appendInts(o, h.AxisOrder[:])
	o = msgp.AppendString(o, "origin")
	o = appendFloats(o, h.Origin[:])
	o = msgp.AppendString(o, "dimensions")
	o = appendFloats(o, h.Dimensions[:])

	o = msgp.AppendString(o, "spacegroup")
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "number")
	o = msgp.AppendInt(o, h.SpaceGroup.Number)
	o = msgp.AppendString(o, "size")
	o = appendFloats(o, h.SpaceGroup.Size[:])
	o = msgp.AppendString(o, "angles")
	o = appendFloats(o, h.SpaceGroup.Angles[:])
	o = msgp.AppendString(o, "isPeriodic")
	o = msgp.AppendBool(o, h.SpaceGroup.IsPeriodic)

	o = msgp.AppendString(o, "channels")
	o = msgp.AppendArrayHeader(o, uint32(len(h.Channels)))
	for _, c := range h.Channels {
		o = msgp.AppendString(o, c)
	}
	o = msgp.AppendString(o, "valueType")
	o = msgp.AppendString(o, h.ValueType.String())
	o = msgp.AppendString(o, "blockSize")
	o = msgp.AppendInt(o, h.BlockSize)

	o = msgp.AppendString(o, "sampling")
	o = msgp.AppendArrayHeader(o, uint32(len(h.Sampling)))
	for _, s := range h.Sampling {
		o = msgp.AppendMapHeader(o, 4)
		o = msgp.AppendString(o, "byteOffset")
		o = msgp.AppendInt64(o, s.ByteOffset)
		o = msgp.AppendString(o, "rate")
		o = msgp.AppendInt(o, s.Rate)
		o = msgp.AppendString(o, "valuesInfo")
		o = msgp.AppendArrayHeader(o, uint32(len(s.ValuesInfo)))
		for _, vi := range s.ValuesInfo {
			o = msgp.AppendArrayHeader(o, 4)
			o = msgp.AppendFloat64(o, vi.Mean)
			o = msgp.AppendFloat64(o, vi.Sigma)
			o = msgp.AppendFloat64(o, vi.Min)
			o = msgp.AppendFloat64(o, vi.Max)
		}
		o = msgp.AppendString(o, "sampleCount")
		o = appendInts(o, s.SampleCount[:])
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler.  Unknown keys are skipped.
func (h *Header) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	var key string
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for ; sz > 0; sz-- {
		key, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return
		}
		switch key {
		case "formatVersion":
			h.FormatVersion, bts, err = msgp.ReadStringBytes(bts)
		case "axisOrder":
			bts, err = readInts(bts, h.AxisOrder[:])
		case "origin":
			bts, err = readFloats(bts, h.Origin[:])
		case "dimensions":
			bts, err = readFloats(bts, h.Dimensions[:])
		case "spacegroup":
			bts, err = h.SpaceGroup.unmarshalMsg(bts)
		case "channels":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			h.Channels = make([]string, n)
			for i := range h.Channels {
				h.Channels[i], bts, err = msgp.ReadStringBytes(bts)
				if err != nil {
					return
				}
			}
		case "valueType":
			var name string
			name, bts, err = msgp.ReadStringBytes(bts)
			if err == nil {
				h.ValueType, err = density.ParseValueType(name)
			}
		case "blockSize":
			h.BlockSize, bts, err = msgp.ReadIntBytes(bts)
		case "sampling":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			h.Sampling = make([]Sampling, n)
			for i := range h.Sampling {
				bts, err = h.Sampling[i].unmarshalMsg(bts)
				if err != nil {
					return
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return
		}
	}
	o = bts
	return
}

func (sg *SpaceGroup) unmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	var key string
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for ; sz > 0; sz-- {
		key, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return
		}
		switch key {
		case "number":
			sg.Number, bts, err = msgp.ReadIntBytes(bts)
		case "size":
			bts, err = readFloats(bts, sg.Size[:])
		case "angles":
			bts, err = readFloats(bts, sg.Angles[:])
		case "isPeriodic":
			sg.IsPeriodic, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return
		}
	}
	o = bts
	return
}

func (s *Sampling) unmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	var key string
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for ; sz > 0; sz-- {
		key, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return
		}
		switch key {
		case "byteOffset":
			s.ByteOffset, bts, err = msgp.ReadInt64Bytes(bts)
		case "rate":
			s.Rate, bts, err = msgp.ReadIntBytes(bts)
		case "valuesInfo":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			s.ValuesInfo = make([]ValuesInfo, n)
			for i := range s.ValuesInfo {
				var stats [4]float64
				bts, err = readFloats(bts, stats[:])
				if err != nil {
					return
				}
				s.ValuesInfo[i] = ValuesInfo{Mean: stats[0], Sigma: stats[1], Min: stats[2], Max: stats[3]}
			}
		case "sampleCount":
			bts, err = readInts(bts, s.SampleCount[:])
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the encoded size.
func (h *Header) Msgsize() (s int) {
	s = msgp.MapHeaderSize + 160 + len(h.FormatVersion) + 3*msgp.IntSize + 6*msgp.Float64Size
	s += msgp.MapHeaderSize + msgp.IntSize + 6*msgp.Float64Size + msgp.BoolSize
	s += msgp.ArrayHeaderSize
	for _, c := range h.Channels {
		s += msgp.StringPrefixSize + len(c)
	}
	s += msgp.ArrayHeaderSize
	for _, smp := range h.Sampling {
		s += msgp.MapHeaderSize + 48 + msgp.Int64Size + 4*msgp.IntSize + msgp.ArrayHeaderSize
		s += len(smp.ValuesInfo) * (msgp.ArrayHeaderSize + 4*msgp.Float64Size)
	}
	return
}

func appendInts(o []byte, v []int) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(v)))
	for _, x := range v {
		o = msgp.AppendInt(o, x)
	}
	return o
}

func appendFloats(o []byte, v []float64) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(v)))
	for _, x := range v {
		o = msgp.AppendFloat64(o, x)
	}
	return o
}

func readInts(bts []byte, dst []int) ([]byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	if int(n) != len(dst) {
		return bts, msgp.ArrayError{Wanted: uint32(len(dst)), Got: n}
	}
	for i := range dst {
		dst[i], bts, err = msgp.ReadIntBytes(bts)
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

func readFloats(bts []byte, dst []float64) ([]byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	if int(n) != len(dst) {
		return bts, msgp.ArrayError{Wanted: uint32(len(dst)), Got: n}
	}
	for i := range dst {
		dst[i], bts, err = msgp.ReadFloat64Bytes(bts)
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}
