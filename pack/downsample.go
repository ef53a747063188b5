package pack

import "github.com/janelia-flyem/densityserver/density"

// 5-tap binomial kernel normalized to 1.
var kernel = [5]float64{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

const ringSize = len(kernel)

// downsampler reduces a stream of slices of one level into the slices of the next
// coarser level.  Each incoming slice is reduced along its fastest axis (h) and then its
// second axis (hk).  The hk results of the last five slices are kept in a ring so the
// slowest axis can be reduced around every other slice.
type downsampler struct {
	src, dst density.Grid

	h   [][]float64           // per channel, src[1] rows of dst[0]
	hk  [][ringSize][]float64 // per channel, ring of dst[0]*dst[1] slices
	out [][]float64           // per channel, one reduced slice

	written int // slices added
	center  int // next source slice to center the kernel on
}

func newDownsampler(channels int, src, dst density.Grid) *downsampler {
	d := &downsampler{
		src: src,
		dst: dst,
		h:   make([][]float64, channels),
		hk:  make([][ringSize][]float64, channels),
		out: make([][]float64, channels),
	}
	for c := 0; c < channels; c++ {
		d.h[c] = make([]float64, src[1]*dst[0])
		for r := 0; r < ringSize; r++ {
			d.hk[c][r] = make([]float64, dst[0]*dst[1])
		}
		d.out[c] = make([]float64, dst[0]*dst[1])
	}
	return d
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// add reduces one slice per channel along the first two axes into the ring.
func (d *downsampler) add(slice [][]float64) {
	n0, n1 := d.src[0], d.src[1]
	t0, t1 := d.dst[0], d.dst[1]
	slot := d.written % ringSize
	for c, values := range slice {
		h := d.h[c]
		for k := 0; k < n1; k++ {
			row := values[k*n0 : (k+1)*n0]
			for j := 0; j < t0; j++ {
				var sum float64
				for o, w := range kernel {
					sum += w * row[clamp(2*j+o-2, n0)]
				}
				h[k*t0+j] = sum
			}
		}
		hk := d.hk[c][slot]
		for m := 0; m < t1; m++ {
			for j := 0; j < t0; j++ {
				var sum float64
				for o, w := range kernel {
					sum += w * h[clamp(2*m+o-2, n1)*t0+j]
				}
				hk[m*t0+j] = sum
			}
		}
	}
	d.written++
}

// ready returns true if the next coarse slice can be produced.  Before the source is
// finished that requires the two slices after the center; afterwards, missing slices
// are clamped to the last one.
func (d *downsampler) ready(finishing bool) bool {
	delta := d.written - d.center
	if finishing {
		return delta > 0
	}
	return delta >= 3
}

// reduce produces the next coarse slice.  The result is valid until the next call.
func (d *downsampler) reduce() [][]float64 {
	var slots [ringSize]int
	for o := range kernel {
		slots[o] = clamp(d.center+o-2, d.written) % ringSize
	}
	for c := range d.out {
		out := d.out[c]
		ring := &d.hk[c]
		for i := range out {
			var sum float64
			for o, w := range kernel {
				sum += w * ring[slots[o]][i]
			}
			out[i] = sum
		}
	}
	d.center += 2
	return d.out
}
