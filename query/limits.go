package query

// Limits bound the work done by a single query.
type Limits struct {
	// MaxRequestBlockCount is the largest number of blocks a query may read.
	MaxRequestBlockCount int `toml:"maxRequestBlockCount"`

	// MaxFractionalBoxVolume is the largest query box volume in unit cells.
	MaxFractionalBoxVolume float64 `toml:"maxFractionalBoxVolume"`

	// MaxOutputSizeInVoxelCountByPrecisionLevel maps a detail level to the largest
	// number of samples returned per channel.
	MaxOutputSizeInVoxelCountByPrecisionLevel []int64 `toml:"maxOutputSizeInVoxelCountByPrecisionLevel"`
}

// DefaultVoxelBudget is used when the detail table is empty.
const DefaultVoxelBudget = 2 * 1024 * 1024

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestBlockCount:   32,
		MaxFractionalBoxVolume: 1024,
		MaxOutputSizeInVoxelCountByPrecisionLevel: []int64{
			512 * 1024,
			1024 * 1024,
			2 * 1024 * 1024,
			4 * 1024 * 1024,
			8 * 1024 * 1024,
			16 * 1024 * 1024,
			24 * 1024 * 1024,
		},
	}
}

// ClampDetail limits a detail level to the configured table.
func (l Limits) ClampDetail(detail int) int {
	if detail < 0 {
		return 0
	}
	if n := len(l.MaxOutputSizeInVoxelCountByPrecisionLevel); detail >= n {
		return max(0, n-1)
	}
	return detail
}

// VoxelBudget returns the sample budget of a detail level.
func (l Limits) VoxelBudget(detail int) int64 {
	table := l.MaxOutputSizeInVoxelCountByPrecisionLevel
	if len(table) == 0 {
		return DefaultVoxelBudget
	}
	return table[l.ClampDetail(detail)]
}
