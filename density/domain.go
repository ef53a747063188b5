package density

import "math"

// DomainKind distinguishes the coordinate frames used by the query engine.
type DomainKind uint8

const (
	DataDomain DomainKind = iota
	BlockDomain
	QueryDomain
)

func (k DomainKind) String() string {
	switch k {
	case DataDomain:
		return "data"
	case BlockDomain:
		return "block"
	case QueryDomain:
		return "query"
	}
	return "unknown"
}

// snapEpsilon absorbs floating point error when fractional positions that are meant to
// land on a sample are converted to grid indices.
const snapEpsilon = 1e-6

// Domain is a sampled region of fractional space.  Sample i along an axis is located at
// Origin + i*Delta.
type Domain struct {
	Kind        DomainKind
	Origin      Fractional
	Delta       Fractional
	SampleCount Grid
}

// NewDataDomain returns the domain spanning dims from origin with count samples per axis.
func NewDataDomain(origin, dims Fractional, count Grid) Domain {
	d := Domain{Kind: DataDomain, Origin: origin, SampleCount: count}
	for i := 0; i < 3; i++ {
		d.Delta[i] = dims[i] / float64(count[i])
	}
	return d
}

// Dimensions returns the fractional extent of the domain.
func (d Domain) Dimensions() Fractional {
	return Fractional{
		d.Delta[0] * float64(d.SampleCount[0]),
		d.Delta[1] * float64(d.SampleCount[1]),
		d.Delta[2] * float64(d.SampleCount[2]),
	}
}

// SampleVolume returns the total number of samples.
func (d Domain) SampleVolume() int64 {
	return d.SampleCount.Volume()
}

// Box returns the fractional bounding box of the domain.
func (d Domain) Box() FractionalBox {
	return FractionalBox{A: d.Origin, B: d.Origin.Add(d.Dimensions())}
}

// Blocks returns the block domain of a data domain: same extent, delta scaled by the
// block size and sample counts rounded up to whole blocks.
func (d Domain) Blocks(blockSize int) Domain {
	b := Domain{Kind: BlockDomain, Origin: d.Origin}
	for i := 0; i < 3; i++ {
		b.Delta[i] = d.Delta[i] * float64(blockSize)
		b.SampleCount[i] = (d.SampleCount[i] + blockSize - 1) / blockSize
	}
	return b
}

// Sub returns the query domain covering the grid box g of d.
func (d Domain) Sub(g GridBox) Domain {
	return Domain{
		Kind:        QueryDomain,
		Origin:      d.ToFractional(g.A),
		Delta:       d.Delta,
		SampleCount: g.Size(),
	}
}

// ToFractional returns the position of grid sample g.
func (d Domain) ToFractional(g Grid) Fractional {
	var f Fractional
	for i := 0; i < 3; i++ {
		f[i] = d.Origin[i] + float64(g[i])*d.Delta[i]
	}
	return f
}

// GridFloor returns the largest grid index at or below f, per axis.
func (d Domain) GridFloor(f Fractional) Grid {
	var g Grid
	for i := 0; i < 3; i++ {
		x := (f[i] - d.Origin[i]) / d.Delta[i]
		g[i] = int(math.Floor(snap(x)))
	}
	return g
}

// GridCeil returns the smallest grid index at or above f, per axis.
func (d Domain) GridCeil(f Fractional) Grid {
	var g Grid
	for i := 0; i < 3; i++ {
		x := (f[i] - d.Origin[i]) / d.Delta[i]
		g[i] = int(math.Ceil(snap(x)))
	}
	return g
}

// GridBox converts a fractional box to the grid box [floor(A), ceil(B)).
func (d Domain) GridBox(b FractionalBox) GridBox {
	return GridBox{A: d.GridFloor(b.A), B: d.GridCeil(b.B)}
}

func snap(x float64) float64 {
	if r := math.Round(x); math.Abs(x-r) < snapEpsilon {
		return r
	}
	return x
}
