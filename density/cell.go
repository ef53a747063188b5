package density

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Cell is a crystallographic unit cell with edge lengths in Angstroms and angles in
// radians.
type Cell struct {
	Size   [3]float64
	Angles [3]float64

	toCartesian  *mat.Dense
	toFractional *mat.Dense
}

// NewCell builds the fractional/Cartesian transforms of the cell.
func NewCell(size, angles [3]float64) (*Cell, error) {
	ca, cb, cg := math.Cos(angles[0]), math.Cos(angles[1]), math.Cos(angles[2])
	sg := math.Sin(angles[2])
	if sg == 0 {
		return nil, fmt.Errorf("%w: degenerate cell angle gamma", ErrFormat)
	}
	v := 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
	if v <= 0 {
		return nil, fmt.Errorf("%w: cell angles %v do not form a cell", ErrFormat, angles)
	}
	v = math.Sqrt(v)
	a, b, c := size[0], size[1], size[2]

	// Columns are the a, b and c cell vectors.
	m := mat.NewDense(3, 3, []float64{
		a, b * cg, c * cb,
		0, b * sg, c * (ca - cb*cg) / sg,
		0, 0, c * v / sg,
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, fmt.Errorf("%w: cell matrix not invertible: %v", ErrFormat, err)
	}
	return &Cell{Size: size, Angles: angles, toCartesian: m, toFractional: &inv}, nil
}

// AnglesDegrees returns the cell angles in degrees.
func (c *Cell) AnglesDegrees() [3]float64 {
	return [3]float64{
		c.Angles[0] * 180 / math.Pi,
		c.Angles[1] * 180 / math.Pi,
		c.Angles[2] * 180 / math.Pi,
	}
}

// Fractional converts a Cartesian position to fractional coordinates.
func (c *Cell) Fractional(p Cartesian) Fractional {
	var out mat.VecDense
	out.MulVec(c.toFractional, mat.NewVecDense(3, p[:]))
	return Fractional{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Cartesian converts a fractional position to Cartesian coordinates.
func (c *Cell) Cartesian(f Fractional) Cartesian {
	var out mat.VecDense
	out.MulVec(c.toCartesian, mat.NewVecDense(3, f[:]))
	return Cartesian{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// FractionalBox returns the fractional bounding box of all eight corners of a Cartesian
// box.
func (c *Cell) FractionalBox(b CartesianBox) FractionalBox {
	var box FractionalBox
	for i := 0; i < 8; i++ {
		var p Cartesian
		for k := 0; k < 3; k++ {
			if i&(1<<k) == 0 {
				p[k] = b.A[k]
			} else {
				p[k] = b.B[k]
			}
		}
		f := c.Fractional(p)
		if i == 0 {
			box = FractionalBox{A: f, B: f}
		} else {
			box = box.Union(FractionalBox{A: f, B: f})
		}
	}
	return box
}
