package density

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// QueryBox is the region requested by a query: the whole cell, a Cartesian box or a
// fractional box.  Fractional boxes are given in crystallographic axis order.
type QueryBox interface {
	// Kind is the box type reported in query results.
	Kind() string
	isQueryBox()
}

// CellBox requests the whole data domain.
type CellBox struct{}

// CartesianBox is a box in Angstroms.
type CartesianBox struct {
	A, B Cartesian
}

func (CellBox) Kind() string       { return "cell" }
func (CartesianBox) Kind() string  { return "cartesian" }
func (FractionalBox) Kind() string { return "fractional" }

func (CellBox) isQueryBox()       {}
func (CartesianBox) isQueryBox()  {}
func (FractionalBox) isQueryBox() {}

// NewCartesianBox orders the two corners component-wise.
func NewCartesianBox(a, b Cartesian) CartesianBox {
	f := NewFractionalBox(Fractional(a), Fractional(b))
	return CartesianBox{A: Cartesian(f.A), B: Cartesian(f.B)}
}

// Corners returns the two requested corners, zeros for a CellBox.
func Corners(q QueryBox) (a, b [3]float64) {
	switch box := q.(type) {
	case CartesianBox:
		return box.A, box.B
	case FractionalBox:
		return box.A, box.B
	}
	return
}

// ParseQueryBox builds a box from a space name ("cartesian" or "fractional") and two
// corners.
func ParseQueryBox(space string, a, b [3]float64) (QueryBox, error) {
	switch space {
	case "", "cartesian":
		return NewCartesianBox(a, b), nil
	case "fractional":
		return NewFractionalBox(a, b), nil
	}
	return nil, fmt.Errorf("unknown box space %q", space)
}

// ParseCorner parses a box corner written as "x,y,z".
func ParseCorner(s string) (v [3]float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected 3 comma-separated numbers, got %q", s)
	}
	for i, part := range parts {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return v, err
		}
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return v, fmt.Errorf("coordinate %q is not finite", part)
		}
	}
	return v, nil
}
