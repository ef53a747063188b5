package pack

import "github.com/janelia-flyem/densityserver/density"

// SamplingCounts returns the sample counts of every pyramid level, starting with base.
// Each level halves the previous one, rounding up.  Levels are added while the largest
// axis exceeds the block size, plus one level once every axis fits in a block.  No level
// has an axis with fewer than two samples.
func SamplingCounts(base density.Grid, blockSize int) []density.Grid {
	counts := []density.Grid{base}
	prev := base
	fitsBlock := false
	for {
		var next density.Grid
		for i := 0; i < 3; i++ {
			next[i] = (prev[i] + 1) / 2
			if next[i] < 2 {
				return counts
			}
		}
		if next.MaxComponent() <= blockSize {
			if fitsBlock {
				return counts
			}
			fitsBlock = true
		}
		counts = append(counts, next)
		prev = next
	}
}
