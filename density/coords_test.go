package density

import (
	"math"
	"testing"
)

func TestGridBoxOps(t *testing.T) {
	a := GridBox{A: Grid{0, 0, 0}, B: Grid{10, 10, 10}}
	b := GridBox{A: Grid{5, -3, 8}, B: Grid{12, 4, 20}}

	got := a.Intersect(b)
	want := GridBox{A: Grid{5, 0, 8}, B: Grid{10, 4, 10}}
	if got != want {
		t.Fatalf("intersect: expected %v, got %v", want, got)
	}
	if v := got.Volume(); v != 5*4*2 {
		t.Errorf("expected volume 40, got %d", v)
	}
	disjoint := a.Intersect(GridBox{A: Grid{20, 0, 0}, B: Grid{30, 1, 1}})
	if !disjoint.Empty() {
		t.Errorf("expected empty intersection, got %v", disjoint)
	}
	if u := a.Union(b); u != (GridBox{A: Grid{0, -3, 0}, B: Grid{12, 10, 20}}) {
		t.Errorf("bad union %v", u)
	}
	if e := a.Expand(1); e.A != (Grid{-1, -1, -1}) || e.B != (Grid{11, 11, 11}) {
		t.Errorf("bad expand %v", e)
	}
	if c := a.Expand(1).Clamp(Grid{10, 10, 10}); c != a {
		t.Errorf("bad clamp %v", c)
	}
}

func TestFloorDivMod(t *testing.T) {
	tests := []struct{ a, b, div, mod int }{
		{7, 3, 2, 1},
		{-1, 3, -1, 2},
		{-3, 3, -1, 0},
		{-4, 3, -2, 2},
		{0, 5, 0, 0},
	}
	for _, tc := range tests {
		if d := FloorDiv(tc.a, tc.b); d != tc.div {
			t.Errorf("FloorDiv(%d,%d) = %d, expected %d", tc.a, tc.b, d, tc.div)
		}
		if m := Mod(tc.a, tc.b); m != tc.mod {
			t.Errorf("Mod(%d,%d) = %d, expected %d", tc.a, tc.b, m, tc.mod)
		}
	}
}

func TestDomainGridConversion(t *testing.T) {
	d := NewDataDomain(Fractional{0, 0, 0}, Fractional{1, 1, 1}, Grid{10, 20, 30})
	if d.SampleVolume() != 6000 {
		t.Fatalf("bad sample volume %d", d.SampleVolume())
	}
	g := d.GridBox(FractionalBox{A: Fractional{0.9, 0.9, 0.9}, B: Fractional{1.1, 1.1, 1.1}})
	want := GridBox{A: Grid{9, 18, 27}, B: Grid{11, 22, 33}}
	if g != want {
		t.Fatalf("expected %v, got %v", want, g)
	}
	g = d.GridBox(FractionalBox{A: Fractional{-0.1, -0.1, -0.1}, B: Fractional{0.1, 0.1, 0.1}})
	want = GridBox{A: Grid{-1, -2, -3}, B: Grid{1, 2, 3}}
	if g != want {
		t.Fatalf("expected %v, got %v", want, g)
	}

	b := d.Blocks(8)
	if b.Kind != BlockDomain || b.SampleCount != (Grid{2, 3, 4}) {
		t.Errorf("bad block domain %+v", b)
	}
	q := d.Sub(GridBox{A: Grid{2, 4, 6}, B: Grid{4, 8, 12}})
	if q.Kind != QueryDomain || q.SampleCount != (Grid{2, 4, 6}) || math.Abs(q.Origin[0]-0.2) > 1e-12 {
		t.Errorf("bad query domain %+v", q)
	}
}

func TestFractionalBox(t *testing.T) {
	a := NewFractionalBox(Fractional{1, 0, 0}, Fractional{0, 1, 1})
	if a.A != (Fractional{0, 0, 0}) || a.B != (Fractional{1, 1, 1}) {
		t.Fatalf("corners not ordered: %+v", a)
	}
	if _, ok := a.Intersect(FractionalBox{A: Fractional{2, 2, 2}, B: Fractional{3, 3, 3}}); ok {
		t.Errorf("expected no intersection")
	}
	r, ok := a.Intersect(FractionalBox{A: Fractional{0.5, -1, 0.25}, B: Fractional{3, 0.5, 0.75}})
	if !ok || r.Volume() != 0.5*0.5*0.5 {
		t.Errorf("bad intersection %+v", r)
	}
	p := FractionalBox{A: Fractional{1, 2, 3}, B: Fractional{4, 5, 6}}.Permute(AxisOrder{2, 0, 1})
	if p.A != (Fractional{3, 1, 2}) || p.B != (Fractional{6, 4, 5}) {
		t.Errorf("bad permutation %+v", p)
	}
	if !(AxisOrder{2, 0, 1}).Valid() || (AxisOrder{0, 0, 1}).Valid() {
		t.Errorf("bad axis order validation")
	}
}

func TestValueTypeRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	for _, vt := range []ValueType{Float32, Int8, Uint8, Int16, Uint16, Int32} {
		vt.Put(buf, 42)
		if got := vt.Get(buf); got != 42 {
			t.Errorf("%s: expected 42, got %f", vt, got)
		}
	}
	for _, v := range []float64{1<<24 + 1, math.MaxInt32, math.MinInt32 + 3} {
		Int32.Put(buf, v)
		if got := Int32.Get(buf); got != v || Int32.Round(v) != v {
			t.Errorf("int32: expected %.0f exactly, got %.0f", v, got)
		}
	}
	Int8.Put(buf, 1000)
	if got := Int8.Get(buf); got != 127 {
		t.Errorf("expected saturation to 127, got %f", got)
	}
	if _, err := ParseValueType("float64"); err == nil {
		t.Errorf("expected error for float64")
	}
}
