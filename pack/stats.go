package pack

import (
	"math"

	"github.com/janelia-flyem/densityserver/format"
)

// accumulator keeps running statistics of the values written for one channel of one
// level.
type accumulator struct {
	count    int64
	sum      float64
	sqSum    float64
	min, max float64
}

func newAccumulator() accumulator {
	return accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *accumulator) add(values []float64) {
	for _, v := range values {
		a.sum += v
		a.sqSum += v * v
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.count += int64(len(values))
}

func (a *accumulator) info() format.ValuesInfo {
	if a.count == 0 {
		return format.ValuesInfo{}
	}
	n := float64(a.count)
	mean := a.sum / n
	return format.ValuesInfo{
		Mean:  mean,
		Sigma: math.Sqrt(math.Max(0, a.sqSum/n-mean*mean)),
		Min:   a.min,
		Max:   a.max,
	}
}
