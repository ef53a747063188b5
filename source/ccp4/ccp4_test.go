package ccp4

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/source"
)

// writeMap writes a small CCP4 map and returns its path.
func writeMap(t *testing.T, order binary.ByteOrder, mode int32, extent [3]int32, values []float32) string {
	t.Helper()
	hdr := make([]byte, headerSize)
	put := func(w int, v int32) { order.PutUint32(hdr[w*4:], uint32(v)) }
	putf := func(w int, v float32) { order.PutUint32(hdr[w*4:], math.Float32bits(v)) }
	for i := 0; i < 3; i++ {
		put(wNC+i, extent[i])
		put(wNX+i, extent[i])
		putf(wCell+i, 10)
		putf(wCell+3+i, 90)
		put(wMapC+i, int32(i+1))
	}
	put(wMode, mode)
	put(wISPG, 1)
	copy(hdr[wMap*4:], "MAP ")

	var data []byte
	word := make([]byte, 4)
	for _, v := range values {
		switch mode {
		case 2:
			order.PutUint32(word, math.Float32bits(v))
			data = append(data, word...)
		case 1:
			order.PutUint16(word, uint16(int16(v)))
			data = append(data, word[:2]...)
		case 0:
			data = append(data, byte(int8(v)))
		}
	}
	path := filepath.Join(t.TempDir(), "test.ccp4")
	if err := os.WriteFile(path, append(hdr, data...), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []float64 {
	t.Helper()
	var buf source.Slices
	var out []float64
	for !buf.IsFinished {
		if err := r.ReadSlices(&buf); err != nil {
			t.Fatal(err)
		}
		out = append(out, buf.Values...)
	}
	return out
}

func TestReadMap(t *testing.T) {
	extent := [3]int32{3, 4, 5}
	values := make([]float32, 60)
	for i := range values {
		values[i] = float32(i) - 30
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		for _, mode := range []int32{0, 1, 2} {
			path := writeMap(t, order, mode, extent, values)
			r, err := Open(path)
			if err != nil {
				t.Fatalf("order %v mode %d: %v", order, mode, err)
			}
			r.SetReadBytes(1)
			h := r.Header()
			if h.Extent != (density.Grid{3, 4, 5}) || h.Name != "test" || h.SpacegroupNumber != 1 {
				t.Errorf("bad header %+v", h)
			}
			got := readAll(t, r)
			for i := range values {
				if got[i] != float64(values[i]) {
					t.Fatalf("order %v mode %d value %d: expected %f, got %f", order, mode, i, values[i], got[i])
				}
			}
			r.Close()
		}
	}
}

func TestBadMaps(t *testing.T) {
	path := writeMap(t, binary.LittleEndian, 4, [3]int32{2, 2, 2}, nil)
	if _, err := Open(path); !errors.Is(err, density.ErrUnsupportedValueType) {
		t.Errorf("expected unsupported mode, got %v", err)
	}

	hdr := make([]byte, headerSize)
	if _, _, err := ParseHeader(hdr); !errors.Is(err, density.ErrFormat) {
		t.Errorf("expected format error for missing stamp, got %v", err)
	}
}
