/*
Package encode writes query results as CIF text or BinaryCIF, the msgpack based binary
form of CIF.
*/
package encode

import (
	"io"

	"github.com/janelia-flyem/densityserver/density"
)

// FieldType is the column type of a Field.
type FieldType uint8

const (
	String FieldType = iota
	Int
	Float
	// Samples is a column of density values.
	Samples
)

// Field is one column of a category.  Only the accessor matching Type is used.
type Field struct {
	Name string
	Type FieldType

	Str   func(row int) string
	Int   func(row int) int64
	Float func(row int) float64

	// Present reports whether a row has a value; nil means every row does.
	Present func(row int) bool

	// Digits is the number of significant digits written for Float and Samples in text.
	Digits int

	// Values and ValueType hold the column of a Samples field.  Byte value types are
	// stored as bytes in binary output, all others are quantized.
	Values    []float64
	ValueType density.ValueType
}

func (f *Field) present(row int) bool {
	return f.Present == nil || f.Present(row)
}

// Category is a CIF category.  Name excludes the leading underscore.
type Category struct {
	Name     string
	RowCount int
	Fields   []Field
}

// Writer accumulates data blocks and writes them in one format.
type Writer interface {
	StartDataBlock(name string)
	WriteCategory(c *Category)
	Encode(w io.Writer) error
}

// NewWriter returns a BinaryCIF writer if binary is true, a text CIF writer otherwise.
func NewWriter(encoder string, binary bool) Writer {
	if binary {
		return newBinaryWriter(encoder)
	}
	return newTextWriter()
}

func str(name string, v func(int) string) Field {
	return Field{Name: name, Type: String, Str: v}
}

func integer(name string, v func(int) int64) Field {
	return Field{Name: name, Type: Int, Int: v}
}

func float(name string, digits int, v func(int) float64) Field {
	return Field{Name: name, Type: Float, Float: v, Digits: digits}
}
