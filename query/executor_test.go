package query

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/encode"
	"github.com/janelia-flyem/densityserver/pack"
	"github.com/janelia-flyem/densityserver/source"
	"github.com/janelia-flyem/densityserver/storage"
)

func field(h, k, l int) float64 {
	return float64(h) + 100*float64(k) + 10000*float64(l)
}

// testMap describes a map packed for tests.  Values are given in storage order.
type testMap struct {
	name      string
	extent    density.Grid // storage order
	axisOrder density.AxisOrder
	valueType density.ValueType
	blockSize int
	periodic  bool
	value     func(h, k, l int) float64
}

// packMap packs m to out with a cell of one Angstrom per sample.
func packMap(t *testing.T, m testMap, out string) {
	t.Helper()
	var grid density.Grid
	for i, a := range m.axisOrder {
		grid[a] = m.extent[i]
	}
	h := source.Header{
		Name:             m.name,
		Grid:             grid,
		AxisOrder:        m.axisOrder,
		Extent:           m.extent,
		SpacegroupNumber: 1,
		CellSize:         [3]float64{float64(grid[0]), float64(grid[1]), float64(grid[2])},
		CellAngles:       [3]float64{90, 90, 90},
		ValueType:        m.valueType,
	}
	values := make([]float64, 0, m.extent.Volume())
	for l := 0; l < m.extent[2]; l++ {
		for k := 0; k < m.extent[1]; k++ {
			for x := 0; x < m.extent[0]; x++ {
				values = append(values, m.value(x, k, l))
			}
		}
	}
	src, err := source.NewMemory(h, values, 4)
	if err != nil {
		t.Fatal(err)
	}
	opts := pack.Options{Output: out, BlockSize: m.blockSize, Periodic: m.periodic}
	if _, err := pack.Pack(context.Background(), []source.Source{src}, opts); err != nil {
		t.Fatal(err)
	}
}

// packTestFile packs field as float32 values in the default axis order.
func packTestFile(t *testing.T, extent density.Grid, blockSize int, periodic bool) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "test.mdb")
	packMap(t, testMap{
		name:      "density",
		extent:    extent,
		axisOrder: density.DefaultAxisOrder,
		valueType: density.Float32,
		blockSize: blockSize,
		periodic:  periodic,
		value:     field,
	}, out)
	return out
}

func testExecutor() *Executor {
	return &Executor{Limits: DefaultLimits(), ServerVersion: "test", Pending: new(Counter)}
}

func fracBox(a, b float64) density.FractionalBox {
	return density.NewFractionalBox(density.Fractional{a, a, a}, density.Fractional{b, b, b})
}

func TestIdentityQuery(t *testing.T) {
	ref := packTestFile(t, density.Grid{9, 7, 11}, 4, false)
	e := testExecutor()
	r := e.execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}}, io.Discard)
	if r.result.Kind != encode.Data {
		t.Fatalf("expected data, got %s: %v", r.result.Kind, r.err)
	}
	if r.level != 0 || r.result.Domain.SampleCount != (density.Grid{9, 7, 11}) {
		t.Fatalf("expected full level 0, got level %d count %v", r.level, r.result.Domain.SampleCount)
	}
	got := r.result.Values[0]
	i := 0
	for l := 0; l < 11; l++ {
		for k := 0; k < 7; k++ {
			for x := 0; x < 9; x++ {
				if got[i] != field(x, k, l) {
					t.Fatalf("sample (%d,%d,%d): expected %f, got %f", x, k, l, field(x, k, l), got[i])
				}
				i++
			}
		}
	}
	if e.Pending.Value() != 0 {
		t.Errorf("pending count not released: %d", e.Pending.Value())
	}
}

func TestCartesianQuery(t *testing.T) {
	ref := packTestFile(t, density.Grid{10, 10, 10}, 4, false)
	e := testExecutor()
	box := density.NewCartesianBox(density.Cartesian{2, 2, 2}, density.Cartesian{5, 5, 5})
	r := e.execute(context.Background(), Params{Ref: ref, Box: box}, io.Discard)
	if r.result.Kind != encode.Data {
		t.Fatalf("expected data, got %s: %v", r.result.Kind, r.err)
	}
	if r.query != (density.GridBox{A: density.Grid{1, 1, 1}, B: density.Grid{6, 6, 6}}) {
		t.Fatalf("unexpected query box %v", r.query)
	}
	vals := r.result.Values[0]
	if vals[0] != field(1, 1, 1) || vals[len(vals)-1] != field(5, 5, 5) {
		t.Errorf("bad corner values %f, %f", vals[0], vals[len(vals)-1])
	}
}

func TestEmptyBox(t *testing.T) {
	ref := packTestFile(t, density.Grid{8, 8, 8}, 4, false)
	e := testExecutor()
	for _, box := range []density.QueryBox{
		fracBox(2, 3),
		fracBox(-5, -1.5),
		density.NewCartesianBox(density.Cartesian{100, 0, 0}, density.Cartesian{120, 8, 8}),
	} {
		var buf bytes.Buffer
		out, err := e.Execute(context.Background(), Params{Ref: ref, Box: box}, &buf)
		if err != nil {
			t.Fatal(err)
		}
		if out.Kind != encode.Empty || out.Err != nil {
			t.Errorf("box %+v: expected empty, got %s (%v)", box, out.Kind, out.Err)
		}
		if !strings.Contains(buf.String(), "_density_server_result.is_empty") {
			t.Errorf("empty result document is missing the descriptor")
		}
	}
}

func TestPeriodicWraparound(t *testing.T) {
	ref := packTestFile(t, density.Grid{10, 10, 10}, 4, true)
	e := testExecutor()
	ctx := context.Background()
	a := e.execute(ctx, Params{Ref: ref, Box: fracBox(0.9, 1.1), ForcedLevel: 1}, io.Discard)
	b := e.execute(ctx, Params{Ref: ref, Box: fracBox(-0.1, 0.1), ForcedLevel: 1}, io.Discard)
	for _, r := range []*run{a, b} {
		if r.result.Kind != encode.Data {
			t.Fatalf("expected data, got %s: %v", r.result.Kind, r.err)
		}
		if r.result.Domain.SampleCount != (density.Grid{4, 4, 4}) {
			t.Fatalf("expected 4x4x4 samples, got %v", r.result.Domain.SampleCount)
		}
	}
	for i := range a.result.Values[0] {
		if a.result.Values[0][i] != b.result.Values[0][i] {
			t.Fatalf("sample %d differs: %f vs %f", i, a.result.Values[0][i], b.result.Values[0][i])
		}
	}
	// Grid samples -2..1 wrap to 8, 9, 0, 1.
	vals := b.result.Values[0]
	if vals[0] != field(8, 8, 8) || vals[3] != field(1, 8, 8) || vals[len(vals)-1] != field(1, 1, 1) {
		t.Errorf("bad wrapped values %f %f %f", vals[0], vals[3], vals[len(vals)-1])
	}
}

func TestLimitEnforcement(t *testing.T) {
	ref := packTestFile(t, density.Grid{8, 8, 8}, 4, false)
	e := testExecutor()
	e.Limits.MaxFractionalBoxVolume = 0.5
	for detail := 0; detail < 8; detail++ {
		var buf bytes.Buffer
		out, err := e.Execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}, Detail: detail}, &buf)
		if err != nil {
			t.Fatal(err)
		}
		if out.Kind != encode.Error || !errors.Is(out.Err, density.ErrLimit) {
			t.Errorf("detail %d: expected limit error, got %s (%v)", detail, out.Kind, out.Err)
		}
		if !strings.Contains(buf.String(), "too big") {
			t.Errorf("detail %d: error message missing from document", detail)
		}
	}
}

func TestBlockCountFallback(t *testing.T) {
	ref := packTestFile(t, density.Grid{40, 40, 40}, 4, false)
	e := testExecutor()
	e.Limits.MaxRequestBlockCount = 1
	r := e.execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}, Detail: 6}, io.Discard)
	if r.result.Kind != encode.Data {
		t.Fatalf("expected data, got %s: %v", r.result.Kind, r.err)
	}
	if r.level != 4 || len(r.blocks) != 1 {
		t.Errorf("expected coarsest level 4 with one block, got level %d with %d blocks", r.level, len(r.blocks))
	}

	r = e.execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}, ForcedLevel: 1}, io.Discard)
	if r.result.Kind != encode.Error || !errors.Is(r.err, density.ErrLimit) {
		t.Errorf("expected forced level over the block limit to fail, got %s (%v)", r.result.Kind, r.err)
	}
}

func TestDetailSelectsLevel(t *testing.T) {
	ref := packTestFile(t, density.Grid{40, 40, 40}, 4, false)
	e := testExecutor()
	e.Limits.MaxOutputSizeInVoxelCountByPrecisionLevel = []int64{100, 1000000}
	tests := []struct{ detail, level int }{{0, 4}, {1, 2}, {5, 2}}
	for _, tc := range tests {
		r := e.execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}, Detail: tc.detail}, io.Discard)
		if r.result.Kind != encode.Data || r.level != tc.level {
			t.Errorf("detail %d: expected level %d, got %d (%s, %v)", tc.detail, tc.level, r.level, r.result.Kind, r.err)
		}
	}
	r := e.execute(context.Background(), Params{Ref: ref, Box: density.CellBox{}, ForcedLevel: 99}, io.Discard)
	if r.level != 4 {
		t.Errorf("expected forced level to clamp to the coarsest, got %d", r.level)
	}
}

func TestMissingFile(t *testing.T) {
	e := testExecutor()
	var buf bytes.Buffer
	out, err := e.Execute(context.Background(), Params{Ref: filepath.Join(t.TempDir(), "none.mdb"), Box: density.CellBox{}, Binary: true}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != encode.Error || !errors.Is(out.Err, storage.ErrNotFound) {
		t.Errorf("expected not found error, got %s (%v)", out.Kind, out.Err)
	}
	if buf.Len() == 0 {
		t.Errorf("expected an error document")
	}
}

func TestHeaderCache(t *testing.T) {
	ref := packTestFile(t, density.Grid{8, 8, 8}, 4, false)
	c := NewHeaderCache(1)
	ctx := context.Background()
	var first string
	for i := 0; i < 2; i++ {
		r, err := storage.Open(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		h, err := c.Load(r)
		r.Close()
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = h.Channels[0]
		} else if h.Channels[0] != first {
			t.Errorf("cached header differs")
		}
	}
	if NewHeaderCache(0) != nil {
		t.Errorf("expected nil cache for zero size")
	}
}

func TestIdentityQueryValueTypes(t *testing.T) {
	extent := density.Grid{9, 7, 11}
	tests := []struct {
		vt    density.ValueType
		value func(i int) float64
	}{
		{density.Int8, func(i int) float64 { return float64(i%256 - 128) }},
		{density.Uint8, func(i int) float64 { return float64(i % 256) }},
		{density.Int16, func(i int) float64 { return float64(i*37 - 12000) }},
		{density.Uint16, func(i int) float64 { return float64(i * 90) }},
		{density.Int32, func(i int) float64 { return float64(1<<24 + 1 + 3*i) }},
		{density.Int32, func(i int) float64 { return float64(-2000000000 + 4999999*i) }},
		{density.Float32, func(i int) float64 { return float64(i) / 4 }},
	}
	for _, tc := range tests {
		index := func(h, k, l int) int { return h + extent[0]*(k+extent[1]*l) }
		out := filepath.Join(t.TempDir(), "identity.mdb")
		packMap(t, testMap{
			name:      tc.vt.String(),
			extent:    extent,
			axisOrder: density.DefaultAxisOrder,
			valueType: tc.vt,
			blockSize: 4,
			value:     func(h, k, l int) float64 { return tc.value(index(h, k, l)) },
		}, out)
		r := testExecutor().execute(context.Background(), Params{Ref: out, Box: density.CellBox{}}, io.Discard)
		if r.result.Kind != encode.Data || r.level != 0 {
			t.Fatalf("%s: expected data at level 0, got %s at level %d: %v", tc.vt, r.result.Kind, r.level, r.err)
		}
		got := r.result.Values[0]
		if len(got) != int(extent.Volume()) {
			t.Fatalf("%s: expected %d samples, got %d", tc.vt, extent.Volume(), len(got))
		}
		for i, v := range got {
			if v != tc.value(i) {
				t.Fatalf("%s sample %d: expected %.0f, got %.0f", tc.vt, i, tc.value(i), v)
			}
		}
	}
}

func TestAxisOrderQuery(t *testing.T) {
	// Storage axes hold z, x, y.  The crystallographic grid is 10 x 6 x 4 samples.
	out := filepath.Join(t.TempDir(), "zxy.mdb")
	packMap(t, testMap{
		name:      "zxy",
		extent:    density.Grid{4, 10, 6},
		axisOrder: density.AxisOrder{2, 0, 1},
		valueType: density.Float32,
		blockSize: 4,
		value:     field,
	}, out)
	e := testExecutor()
	tests := []struct {
		box   density.QueryBox
		query density.GridBox
	}{
		// Narrow on x only, x from 2 to 3 Angstrom.
		{
			density.NewFractionalBox(density.Fractional{0.2, 0, 0}, density.Fractional{0.3, 1, 1}),
			density.GridBox{A: density.Grid{0, 1, 0}, B: density.Grid{4, 4, 6}},
		},
		// x from 2 to 3, y from 1 to 2 and all of z.
		{
			density.NewCartesianBox(density.Cartesian{2, 1, 0}, density.Cartesian{3, 2, 4}),
			density.GridBox{A: density.Grid{0, 1, 0}, B: density.Grid{4, 4, 3}},
		},
	}
	for _, tc := range tests {
		r := e.execute(context.Background(), Params{Ref: out, Box: tc.box}, io.Discard)
		if r.result.Kind != encode.Data || r.level != 0 {
			t.Fatalf("box %+v: expected data at level 0, got %s at level %d: %v", tc.box, r.result.Kind, r.level, r.err)
		}
		if r.query != tc.query {
			t.Fatalf("box %+v: expected storage grid box %v, got %v", tc.box, tc.query, r.query)
		}
		size := tc.query.Size()
		if r.result.Domain.SampleCount != size {
			t.Errorf("box %+v: expected sample count %v, got %v", tc.box, size, r.result.Domain.SampleCount)
		}
		vals := r.result.Values[0]
		i := 0
		for l := tc.query.A[2]; l < tc.query.B[2]; l++ {
			for k := tc.query.A[1]; k < tc.query.B[1]; k++ {
				for h := tc.query.A[0]; h < tc.query.B[0]; h++ {
					if vals[i] != field(h, k, l) {
						t.Fatalf("box %+v: sample z=%d x=%d y=%d expected %f, got %f", tc.box, h, k, l, field(h, k, l), vals[i])
					}
					i++
				}
			}
		}
	}
}

func TestHeaderCacheReplacedFile(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "map.mdb")
	m := testMap{
		name:      "alpha",
		extent:    density.Grid{8, 8, 8},
		axisOrder: density.DefaultAxisOrder,
		valueType: density.Float32,
		blockSize: 4,
		value:     field,
	}
	packMap(t, m, ref)
	m.name = "omega"
	replacement := filepath.Join(dir, "replacement.mdb")
	packMap(t, m, replacement)

	c := NewHeaderCache(1)
	load := func() (string, int64) {
		r, err := storage.Open(context.Background(), ref)
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		h, err := c.Load(r)
		if err != nil {
			t.Fatal(err)
		}
		return h.Channels[0], r.Size()
	}
	name, size := load()
	if name != "alpha" {
		t.Fatalf("expected channel alpha, got %q", name)
	}
	if err := os.Rename(replacement, ref); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(ref, later, later); err != nil {
		t.Fatal(err)
	}
	name, newSize := load()
	if newSize != size {
		t.Fatalf("replacement changed size from %d to %d", size, newSize)
	}
	if name != "omega" {
		t.Errorf("expected the replaced header, got channel %q", name)
	}
}
