package density

import (
	"fmt"
	"math"
)

// Cartesian is a position in Angstroms.
type Cartesian [3]float64

// Fractional is a position in unit-cell edge fractions.  Components outside [0,1) are
// meaningful for periodic data.
type Fractional [3]float64

// Grid is an integer sample position within a Domain.
type Grid [3]int

// BlockCoord addresses a block within a level's block grid.
type BlockCoord [3]int

// AxisOrder maps storage axes (fastest to slowest) to crystallographic axes, i.e.
// storage axis i holds crystallographic axis AxisOrder[i].
type AxisOrder [3]int

// DefaultAxisOrder stores x fastest and z slowest.
var DefaultAxisOrder = AxisOrder{0, 1, 2}

// Valid returns true if the order is a permutation of 0, 1, 2.
func (o AxisOrder) Valid() bool {
	var seen [3]bool
	for _, a := range o {
		if a < 0 || a > 2 || seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}

// Permute reorders a crystallographic-order fractional position into storage order.
func (o AxisOrder) Permute(f Fractional) Fractional {
	return Fractional{f[o[0]], f[o[1]], f[o[2]]}
}

func (f Fractional) Add(g Fractional) Fractional {
	return Fractional{f[0] + g[0], f[1] + g[1], f[2] + g[2]}
}

func (f Fractional) Sub(g Fractional) Fractional {
	return Fractional{f[0] - g[0], f[1] - g[1], f[2] - g[2]}
}

// IsNaN returns true if any component is not a number.
func (f Fractional) IsNaN() bool {
	return math.IsNaN(f[0]) || math.IsNaN(f[1]) || math.IsNaN(f[2])
}

func (f Fractional) String() string {
	return fmt.Sprintf("(%g, %g, %g)", f[0], f[1], f[2])
}

func (g Grid) Add(h Grid) Grid {
	return Grid{g[0] + h[0], g[1] + h[1], g[2] + h[2]}
}

func (g Grid) Sub(h Grid) Grid {
	return Grid{g[0] - h[0], g[1] - h[1], g[2] - h[2]}
}

// Volume returns the product of the components.
func (g Grid) Volume() int64 {
	return int64(g[0]) * int64(g[1]) * int64(g[2])
}

// MaxComponent returns the largest component.
func (g Grid) MaxComponent() int {
	m := g[0]
	if g[1] > m {
		m = g[1]
	}
	if g[2] > m {
		m = g[2]
	}
	return m
}

// FractionalBox is an axis-aligned box with corners A <= B.
type FractionalBox struct {
	A, B Fractional
}

// NewFractionalBox orders the two corners component-wise.
func NewFractionalBox(a, b Fractional) FractionalBox {
	var box FractionalBox
	for i := 0; i < 3; i++ {
		box.A[i] = math.Min(a[i], b[i])
		box.B[i] = math.Max(a[i], b[i])
	}
	return box
}

// Dimensions returns B - A.
func (b FractionalBox) Dimensions() Fractional {
	return b.B.Sub(b.A)
}

// Volume returns the product of the box dimensions.
func (b FractionalBox) Volume() float64 {
	d := b.Dimensions()
	return d[0] * d[1] * d[2]
}

// Intersects returns true if the boxes share a region of positive or zero extent.
func (b FractionalBox) Intersects(o FractionalBox) bool {
	for i := 0; i < 3; i++ {
		if b.A[i] > o.B[i] || o.A[i] > b.B[i] {
			return false
		}
	}
	return true
}

// Intersect returns the common region and false if the boxes are disjoint.
func (b FractionalBox) Intersect(o FractionalBox) (FractionalBox, bool) {
	if !b.Intersects(o) {
		return FractionalBox{}, false
	}
	var r FractionalBox
	for i := 0; i < 3; i++ {
		r.A[i] = math.Max(b.A[i], o.A[i])
		r.B[i] = math.Min(b.B[i], o.B[i])
	}
	return r, true
}

// Union returns the smallest box containing both boxes.
func (b FractionalBox) Union(o FractionalBox) FractionalBox {
	var r FractionalBox
	for i := 0; i < 3; i++ {
		r.A[i] = math.Min(b.A[i], o.A[i])
		r.B[i] = math.Max(b.B[i], o.B[i])
	}
	return r
}

// Expand grows the box by d on every side.
func (b FractionalBox) Expand(d Fractional) FractionalBox {
	return FractionalBox{A: b.A.Sub(d), B: b.B.Add(d)}
}

// Permute reorders both corners into storage axis order.
func (b FractionalBox) Permute(o AxisOrder) FractionalBox {
	return FractionalBox{A: o.Permute(b.A), B: o.Permute(b.B)}
}

// GridBox is a half-open box of samples [A, B).
type GridBox struct {
	A, B Grid
}

// Size returns the sample count per axis, zero for empty axes.
func (g GridBox) Size() Grid {
	var s Grid
	for i := 0; i < 3; i++ {
		if g.B[i] > g.A[i] {
			s[i] = g.B[i] - g.A[i]
		}
	}
	return s
}

// Volume returns the number of samples in the box.
func (g GridBox) Volume() int64 {
	return g.Size().Volume()
}

// Empty returns true if the box holds no samples.
func (g GridBox) Empty() bool {
	return g.Volume() == 0
}

// Expand grows the box by n samples on every side.
func (g GridBox) Expand(n int) GridBox {
	return GridBox{A: g.A.Sub(Grid{n, n, n}), B: g.B.Add(Grid{n, n, n})}
}

// Translate shifts the box by t.
func (g GridBox) Translate(t Grid) GridBox {
	return GridBox{A: g.A.Add(t), B: g.B.Add(t)}
}

// Intersect returns the common region, which may be empty.
func (g GridBox) Intersect(o GridBox) GridBox {
	var r GridBox
	for i := 0; i < 3; i++ {
		r.A[i] = max(g.A[i], o.A[i])
		r.B[i] = min(g.B[i], o.B[i])
		if r.B[i] < r.A[i] {
			r.B[i] = r.A[i]
		}
	}
	return r
}

// Union returns the smallest box holding both boxes.  Empty boxes are ignored.
func (g GridBox) Union(o GridBox) GridBox {
	if g.Empty() {
		return o
	}
	if o.Empty() {
		return g
	}
	var r GridBox
	for i := 0; i < 3; i++ {
		r.A[i] = min(g.A[i], o.A[i])
		r.B[i] = max(g.B[i], o.B[i])
	}
	return r
}

// Clamp limits the box to [0, n) per axis.
func (g GridBox) Clamp(n Grid) GridBox {
	return g.Intersect(GridBox{B: n})
}

func (g GridBox) String() string {
	return fmt.Sprintf("[%v, %v)", g.A, g.B)
}

// FloorDiv returns floor(a / b) for b > 0.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Mod returns a modulo b in [0, b) for b > 0.
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
