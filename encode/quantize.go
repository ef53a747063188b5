package encode

import "math"

// QuantizationSteps is the number of levels samples are mapped to in binary output.
const QuantizationSteps = 255

// Range returns the minimum and maximum of finite values, zeros if there are none.
func Range(values []float64) (lo, hi float64) {
	first := true
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		} else if v > hi {
			hi = v
		}
	}
	return
}

// Quantize maps values onto steps levels spanning [lo, hi].  Level i decodes to
// lo + i*(hi-lo)/(steps-1).
func Quantize(values []float64, lo, hi float64, steps int) []byte {
	out := make([]byte, len(values))
	if hi <= lo || steps < 2 {
		return out
	}
	delta := (hi - lo) / float64(steps-1)
	top := byte(steps - 1)
	for i, v := range values {
		switch {
		case !(v > lo):
			out[i] = 0
		case v >= hi:
			out[i] = top
		default:
			out[i] = byte(math.Round((v - lo) / delta))
		}
	}
	return out
}
