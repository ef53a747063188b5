package encode

import (
	"io"
	"time"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
)

// Kind is the outcome of a query.
type Kind uint8

const (
	Data Kind = iota
	Empty
	Error
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Empty:
		return "empty"
	case Error:
		return "error"
	}
	return "unknown"
}

// Result is everything written for one query.
type Result struct {
	Kind  Kind
	Error string

	ServerVersion string
	Time          time.Time
	GUID          string
	SourceID      string
	Box           density.QueryBox

	// The fields below are set for Data results.
	Header *format.Header
	Level  int
	Domain density.Domain // query domain in storage axis order
	Values [][]float64    // one buffer per channel over Domain
}

// Write encodes the result.  Error and Empty results produce a complete document with
// the result descriptor only.
func Write(w io.Writer, r *Result, binary bool) error {
	wr := NewWriter("DensityServer "+r.ServerVersion, binary)
	wr.StartDataBlock("SERVER")
	wr.WriteCategory(resultCategory(r))
	if r.Kind == Data && r.Header != nil {
		for c, name := range r.Header.Channels {
			wr.StartDataBlock(name)
			wr.WriteCategory(infoCategory(r, c))
			wr.WriteCategory(valuesCategory(r, c))
		}
	}
	return wr.Encode(w)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func resultCategory(r *Result) *Category {
	a, b := density.Corners(r.Box)
	_, isCell := r.Box.(density.CellBox)
	hasBox := r.Box != nil && !isCell
	boxType := "cell"
	if r.Box != nil {
		boxType = r.Box.Kind()
	}
	fields := []Field{
		str("server_version", func(int) string { return r.ServerVersion }),
		str("datetime_utc", func(int) string { return r.Time.UTC().Format("2006-01-02 15:04:05") }),
		str("guid", func(int) string { return r.GUID }),
		str("is_empty", func(int) string { return yesNo(r.Kind != Data) }),
		str("has_error", func(int) string { return yesNo(r.Kind == Error) }),
		{Name: "error", Type: String, Str: func(int) string { return r.Error },
			Present: func(int) bool { return r.Kind == Error }},
		str("query_source_id", func(int) string { return r.SourceID }),
		str("query_type", func(int) string { return "box" }),
		str("query_box_type", func(int) string { return boxType }),
	}
	for _, corner := range []struct {
		name string
		v    [3]float64
	}{{"query_box_a", a}, {"query_box_b", b}} {
		for i := 0; i < 3; i++ {
			v := corner.v[i]
			fields = append(fields, Field{
				Name:    corner.name + "[" + string(rune('0'+i)) + "]",
				Type:    Float,
				Float:   func(int) float64 { return v },
				Present: func(int) bool { return hasBox },
			})
		}
	}
	return &Category{Name: "density_server_result", RowCount: 1, Fields: fields}
}

func vec3(name string, digits int, v [3]float64) []Field {
	out := make([]Field, 3)
	for i := range out {
		x := v[i]
		out[i] = float(name+"["+string(rune('0'+i))+"]", digits, func(int) float64 { return x })
	}
	return out
}

func ivec3(name string, v [3]int) []Field {
	out := make([]Field, 3)
	for i := range out {
		x := int64(v[i])
		out[i] = integer(name+"["+string(rune('0'+i))+"]", func(int) int64 { return x })
	}
	return out
}

func infoCategory(r *Result, channel int) *Category {
	h := r.Header
	sampling := h.Sampling[r.Level]
	src := h.Sampling[0].ValuesInfo[channel]
	sampled := sampling.ValuesInfo[channel]
	cell, err := h.Cell()
	angles := [3]float64{}
	if err == nil {
		angles = cell.AnglesDegrees()
	}

	fields := []Field{str("name", func(int) string { return h.Channels[channel] })}
	fields = append(fields, ivec3("axis_order", h.AxisOrder)...)
	fields = append(fields, vec3("origin", 0, r.Domain.Origin)...)
	fields = append(fields, vec3("dimensions", 0, r.Domain.Dimensions())...)
	fields = append(fields, integer("sample_rate", func(int) int64 { return int64(sampling.Rate) }))
	fields = append(fields, ivec3("sample_count", r.Domain.SampleCount)...)
	fields = append(fields, integer("spacegroup_number", func(int) int64 { return int64(h.SpaceGroup.Number) }))
	fields = append(fields, vec3("spacegroup_cell_size", 0, h.SpaceGroup.Size)...)
	fields = append(fields, vec3("spacegroup_cell_angles", 0, angles)...)
	for _, s := range []struct {
		name string
		v    float64
	}{
		{"mean_source", src.Mean}, {"mean_sampled", sampled.Mean},
		{"sigma_source", src.Sigma}, {"sigma_sampled", sampled.Sigma},
		{"min_source", src.Min}, {"min_sampled", sampled.Min},
		{"max_source", src.Max}, {"max_sampled", sampled.Max},
	} {
		v := s.v
		fields = append(fields, float(s.name, 0, func(int) float64 { return v }))
	}
	return &Category{Name: "volume_data_3d_info", RowCount: 1, Fields: fields}
}

func valuesCategory(r *Result, channel int) *Category {
	values := r.Values[channel]
	return &Category{
		Name:     "volume_data_3d",
		RowCount: len(values),
		Fields: []Field{{
			Name:      "values",
			Type:      Samples,
			Values:    values,
			ValueType: r.Header.ValueType,
			Digits:    6,
		}},
	}
}
