package density

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType is the scalar type of the stored samples.
type ValueType uint8

const (
	Float32 ValueType = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
)

var valueTypeNames = map[ValueType]string{
	Float32: "float32",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// ParseValueType returns the ValueType with the given name.
func ParseValueType(s string) (ValueType, error) {
	for t, name := range valueTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedValueType, s)
}

// Valid returns true if the type can be packed and queried.
func (t ValueType) Valid() bool {
	_, ok := valueTypeNames[t]
	return ok
}

// Size returns the number of bytes of one sample.
func (t ValueType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32, Int32:
		return 4
	}
	return 0
}

// IsByte returns true for the one-byte types that are sent without quantization.
func (t ValueType) IsByte() bool {
	return t == Int8 || t == Uint8
}

// Put stores v at the start of b, little-endian, converting to the value type.
// Integer types round to nearest and saturate.
func (t ValueType) Put(b []byte, v float64) {
	switch t {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Int8:
		b[0] = byte(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
	case Uint8:
		b[0] = byte(clampRound(v, 0, math.MaxUint8))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(clampRound(v, 0, math.MaxUint16)))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	}
}

// Get decodes the little-endian sample at the start of b.
func (t ValueType) Get(b []byte) float64 {
	switch t {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	}
	return 0
}

// Round returns v as it will be stored by Put.
func (t ValueType) Round(v float64) float64 {
	switch t {
	case Float32:
		return float64(float32(v))
	case Int8:
		return float64(clampRound(v, math.MinInt8, math.MaxInt8))
	case Uint8:
		return float64(clampRound(v, 0, math.MaxUint8))
	case Int16:
		return float64(clampRound(v, math.MinInt16, math.MaxInt16))
	case Uint16:
		return float64(clampRound(v, 0, math.MaxUint16))
	case Int32:
		return float64(clampRound(v, math.MinInt32, math.MaxInt32))
	}
	return v
}

// IsInteger returns true for the integer value types.
func (t ValueType) IsInteger() bool {
	return t.Valid() && t != Float32
}

// Decode fills dst with len(dst) samples read from src.
func (t ValueType) Decode(dst []float64, src []byte) {
	sz := t.Size()
	for i := range dst {
		dst[i] = t.Get(src[i*sz:])
	}
}

func clampRound(v, lo, hi float64) int64 {
	f := math.Round(v)
	if math.IsNaN(f) {
		return 0
	}
	if f < lo {
		f = lo
	} else if f > hi {
		f = hi
	}
	return int64(f)
}
