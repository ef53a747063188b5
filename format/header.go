/*
Package format defines the packed density file: a 4-byte little-endian header length,
a msgpack-encoded Header, then the block data of every sampling level, finest first.

Within a level, blocks are stored slab by slab along the slowest axis, then row by row,
then along the fastest axis.  Each block holds every channel in turn, each channel as
a dense array with the fastest axis varying first.  Blocks at the far edge of an axis
are truncated to the samples that exist, so a block's offset follows from its
coordinates alone.
*/
package format

import (
	"fmt"

	"github.com/blang/semver"

	"github.com/janelia-flyem/densityserver/density"
)

// Version is the format version written by this package.
const Version = "1.0.0"

var currentVersion = semver.MustParse(Version)

// ValuesInfo holds the statistics of one channel at one sampling level.
type ValuesInfo struct {
	Mean  float64 `json:"mean"`
	Sigma float64 `json:"sigma"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Sampling describes one level of the sampling pyramid.
type Sampling struct {
	ByteOffset  int64        `json:"byteOffset"`
	Rate        int          `json:"rate"`
	ValuesInfo  []ValuesInfo `json:"valuesInfo"`
	SampleCount density.Grid `json:"sampleCount"`
}

// SpaceGroup describes the unit cell.  Angles are in radians.
type SpaceGroup struct {
	Number     int        `json:"number"`
	Size       [3]float64 `json:"size"`
	Angles     [3]float64 `json:"angles"`
	IsPeriodic bool       `json:"isPeriodic"`
}

// Header describes a packed density file.  Origin and Dimensions are fractional and in
// storage axis order.  Sampling is ordered finest first.
type Header struct {
	FormatVersion string             `json:"formatVersion"`
	AxisOrder     density.AxisOrder  `json:"axisOrder"`
	Origin        density.Fractional `json:"origin"`
	Dimensions    density.Fractional `json:"dimensions"`
	SpaceGroup    SpaceGroup         `json:"spacegroup"`
	Channels      []string           `json:"channels"`
	ValueType     density.ValueType  `json:"valueType"`
	BlockSize     int                `json:"blockSize"`
	Sampling      []Sampling         `json:"sampling"`
}

// Validate checks the header is usable for queries.
func (h *Header) Validate() error {
	v, err := semver.Make(h.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: bad format version %q: %v", density.ErrFormat, h.FormatVersion, err)
	}
	if v.Major != currentVersion.Major || v.GT(currentVersion) {
		return fmt.Errorf("%w: %s (reader supports %s)", density.ErrUnsupportedVersion, v, currentVersion)
	}
	if !h.AxisOrder.Valid() {
		return fmt.Errorf("%w: bad axis order %v", density.ErrFormat, h.AxisOrder)
	}
	if !h.ValueType.Valid() {
		return fmt.Errorf("%w: %s", density.ErrUnsupportedValueType, h.ValueType)
	}
	if h.BlockSize <= 0 {
		return fmt.Errorf("%w: bad block size %d", density.ErrFormat, h.BlockSize)
	}
	if len(h.Channels) == 0 {
		return fmt.Errorf("%w: no channels", density.ErrFormat)
	}
	if len(h.Sampling) == 0 {
		return fmt.Errorf("%w: no sampling levels", density.ErrFormat)
	}
	for i, s := range h.Sampling {
		if len(s.ValuesInfo) != len(h.Channels) {
			return fmt.Errorf("%w: level %d has %d value infos for %d channels", density.ErrFormat, i, len(s.ValuesInfo), len(h.Channels))
		}
		for k := 0; k < 3; k++ {
			if s.SampleCount[k] <= 0 {
				return fmt.Errorf("%w: level %d has sample count %v", density.ErrFormat, i, s.SampleCount)
			}
		}
	}
	return nil
}

// Cell returns the unit cell of the header.
func (h *Header) Cell() (*density.Cell, error) {
	return density.NewCell(h.SpaceGroup.Size, h.SpaceGroup.Angles)
}

// DataDomain returns the data domain of a sampling level.
func (h *Header) DataDomain(level int) density.Domain {
	return density.NewDataDomain(h.Origin, h.Dimensions, h.Sampling[level].SampleCount)
}

// DataBox returns the fractional bounding box of the data.
func (h *Header) DataBox() density.FractionalBox {
	return density.FractionalBox{A: h.Origin, B: h.Origin.Add(h.Dimensions)}
}
