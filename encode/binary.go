package encode

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/densityserver/density"
)

// BinaryCIFVersion is the version of the BinaryCIF container written.
const BinaryCIFVersion = "0.3.0"

// BinaryCIF ByteArray element types.
const (
	typeInt8    = 1
	typeInt32   = 3
	typeUint8   = 4
	typeFloat32 = 32
	typeFloat64 = 33
)

type encoding struct {
	kind string
	// ByteArray
	typ int
	// IntervalQuantization
	min, max float64
	steps    int
	srcType  int
	// StringArray
	dataEncoding   []encoding
	stringData     string
	offsetEncoding []encoding
	offsets        []byte
}

type encodedData struct {
	data      []byte
	encodings []encoding
}

type column struct {
	name string
	data encodedData
	mask *encodedData
}

type binaryCategory struct {
	name     string
	rowCount int
	columns  []column
}

type dataBlock struct {
	header     string
	categories []binaryCategory
}

type binaryWriter struct {
	encoder string
	blocks  []dataBlock
}

func newBinaryWriter(encoder string) *binaryWriter {
	return &binaryWriter{encoder: encoder}
}

func (b *binaryWriter) StartDataBlock(name string) {
	b.blocks = append(b.blocks, dataBlock{header: blockName(name)})
}

func (b *binaryWriter) WriteCategory(c *Category) {
	if c.RowCount == 0 || len(b.blocks) == 0 {
		return
	}
	cat := binaryCategory{name: "_" + c.Name, rowCount: c.RowCount}
	for i := range c.Fields {
		cat.columns = append(cat.columns, encodeColumn(&c.Fields[i], c.RowCount))
	}
	last := &b.blocks[len(b.blocks)-1]
	last.categories = append(last.categories, cat)
}

func byteArray(typ int) encoding {
	return encoding{kind: "ByteArray", typ: typ}
}

func encodeColumn(f *Field, rows int) column {
	col := column{name: f.Name}
	switch f.Type {
	case String:
		col.data = encodeStrings(f, rows)
	case Int:
		data := make([]byte, 4*rows)
		for i := 0; i < rows; i++ {
			if f.present(i) {
				binary.LittleEndian.PutUint32(data[4*i:], uint32(int32(f.Int(i))))
			}
		}
		col.data = encodedData{data: data, encodings: []encoding{byteArray(typeInt32)}}
	case Float:
		data := make([]byte, 8*rows)
		for i := 0; i < rows; i++ {
			if f.present(i) {
				binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(f.Float(i)))
			}
		}
		col.data = encodedData{data: data, encodings: []encoding{byteArray(typeFloat64)}}
	case Samples:
		col.data = encodeSamples(f.Values, f.ValueType)
	}
	if f.Present != nil {
		mask := make([]byte, rows)
		missing := false
		for i := range mask {
			if !f.Present(i) {
				mask[i] = 1
				missing = true
			}
		}
		if missing {
			col.mask = &encodedData{data: mask, encodings: []encoding{byteArray(typeUint8)}}
		}
	}
	return col
}

func encodeStrings(f *Field, rows int) encodedData {
	index := make(map[string]int32)
	var stringData []byte
	offsets := []int32{0}
	indices := make([]byte, 4*rows)
	for i := 0; i < rows; i++ {
		idx := int32(-1)
		if f.present(i) {
			s := f.Str(i)
			var ok bool
			if idx, ok = index[s]; !ok {
				idx = int32(len(offsets) - 1)
				index[s] = idx
				stringData = append(stringData, s...)
				offsets = append(offsets, int32(len(stringData)))
			}
		}
		binary.LittleEndian.PutUint32(indices[4*i:], uint32(idx))
	}
	offsetBytes := make([]byte, 4*len(offsets))
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(offsetBytes[4*i:], uint32(o))
	}
	return encodedData{
		data: indices,
		encodings: []encoding{{
			kind:           "StringArray",
			dataEncoding:   []encoding{byteArray(typeInt32)},
			stringData:     string(stringData),
			offsetEncoding: []encoding{byteArray(typeInt32)},
			offsets:        offsetBytes,
		}},
	}
}

func encodeSamples(values []float64, vt density.ValueType) encodedData {
	if vt.IsByte() {
		data := make([]byte, len(values))
		typ := typeUint8
		for i, v := range values {
			if vt == density.Int8 {
				data[i] = byte(int8(v))
			} else {
				data[i] = byte(v)
			}
		}
		if vt == density.Int8 {
			typ = typeInt8
		}
		return encodedData{data: data, encodings: []encoding{byteArray(typ)}}
	}
	lo, hi := Range(values)
	return encodedData{
		data: Quantize(values, lo, hi, QuantizationSteps),
		encodings: []encoding{
			{kind: "IntervalQuantization", min: lo, max: hi, steps: QuantizationSteps, srcType: typeFloat32},
			byteArray(typeUint8),
		},
	}
}

func (b *binaryWriter) Encode(w io.Writer) error {
	o := msgp.AppendMapHeader(nil, 3)
	o = msgp.AppendString(o, "encoder")
	o = msgp.AppendString(o, b.encoder)
	o = msgp.AppendString(o, "version")
	o = msgp.AppendString(o, BinaryCIFVersion)
	o = msgp.AppendString(o, "dataBlocks")
	o = msgp.AppendArrayHeader(o, uint32(len(b.blocks)))
	for _, blk := range b.blocks {
		o = msgp.AppendMapHeader(o, 2)
		o = msgp.AppendString(o, "header")
		o = msgp.AppendString(o, blk.header)
		o = msgp.AppendString(o, "categories")
		o = msgp.AppendArrayHeader(o, uint32(len(blk.categories)))
		for _, cat := range blk.categories {
			o = msgp.AppendMapHeader(o, 3)
			o = msgp.AppendString(o, "name")
			o = msgp.AppendString(o, cat.name)
			o = msgp.AppendString(o, "rowCount")
			o = msgp.AppendInt(o, cat.rowCount)
			o = msgp.AppendString(o, "columns")
			o = msgp.AppendArrayHeader(o, uint32(len(cat.columns)))
			for _, col := range cat.columns {
				o = msgp.AppendMapHeader(o, 3)
				o = msgp.AppendString(o, "name")
				o = msgp.AppendString(o, col.name)
				o = msgp.AppendString(o, "data")
				o = appendData(o, col.data)
				o = msgp.AppendString(o, "mask")
				if col.mask == nil {
					o = msgp.AppendNil(o)
				} else {
					o = appendData(o, *col.mask)
				}
			}
		}
	}
	_, err := w.Write(o)
	return err
}

func appendData(o []byte, d encodedData) []byte {
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "encoding")
	o = appendEncodings(o, d.encodings)
	o = msgp.AppendString(o, "data")
	return msgp.AppendBytes(o, d.data)
}

func appendEncodings(o []byte, encs []encoding) []byte {
	o = msgp.AppendArrayHeader(o, uint32(len(encs)))
	for _, e := range encs {
		switch e.kind {
		case "ByteArray":
			o = msgp.AppendMapHeader(o, 2)
			o = msgp.AppendString(o, "kind")
			o = msgp.AppendString(o, e.kind)
			o = msgp.AppendString(o, "type")
			o = msgp.AppendInt(o, e.typ)
		case "IntervalQuantization":
			o = msgp.AppendMapHeader(o, 5)
			o = msgp.AppendString(o, "kind")
			o = msgp.AppendString(o, e.kind)
			o = msgp.AppendString(o, "min")
			o = msgp.AppendFloat64(o, e.min)
			o = msgp.AppendString(o, "max")
			o = msgp.AppendFloat64(o, e.max)
			o = msgp.AppendString(o, "numSteps")
			o = msgp.AppendInt(o, e.steps)
			o = msgp.AppendString(o, "srcType")
			o = msgp.AppendInt(o, e.srcType)
		case "StringArray":
			o = msgp.AppendMapHeader(o, 5)
			o = msgp.AppendString(o, "kind")
			o = msgp.AppendString(o, e.kind)
			o = msgp.AppendString(o, "dataEncoding")
			o = appendEncodings(o, e.dataEncoding)
			o = msgp.AppendString(o, "stringData")
			o = msgp.AppendString(o, e.stringData)
			o = msgp.AppendString(o, "offsetEncoding")
			o = appendEncodings(o, e.offsetEncoding)
			o = msgp.AppendString(o, "offsets")
			o = msgp.AppendBytes(o, e.offsets)
		}
	}
	return o
}
