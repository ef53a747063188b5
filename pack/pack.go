/*
Package pack converts density maps into block-structured, multi-resolution packed
files and runs bulk packing jobs.
*/
package pack

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
	"github.com/janelia-flyem/densityserver/source"
	"github.com/janelia-flyem/densityserver/source/ccp4"
	"github.com/janelia-flyem/densityserver/storage"
)

// DefaultBlockSize is the block edge length used when none is given.
const DefaultBlockSize = 96

// Options control a single pack.
type Options struct {
	// Output is a local path or a bucket reference understood by storage.Upload.
	Output string

	BlockSize int

	// Periodic marks crystallographic data.  It only takes effect if the map covers
	// exactly one unit cell starting at the origin.
	Periodic bool

	// Progress, if set, is called after each chunk of slices with the number of finest
	// level slices processed so far and the total.
	Progress func(done, total int)
}

// PackFiles packs the CCP4/MRC maps at inputs, one channel per map.
func PackFiles(ctx context.Context, inputs []string, opts Options) (*format.Header, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input maps given")
	}
	sources := make([]source.Source, 0, len(inputs))
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()
	for _, in := range inputs {
		r, err := ccp4.Open(in)
		if err != nil {
			return nil, err
		}
		sources = append(sources, r)
	}
	return Pack(ctx, sources, opts)
}

// Pack reads every source to completion and writes the packed file.  All headers are
// checked before any output is created.  The file is written to a temporary path and
// only moved to opts.Output once complete.  Sources are not closed.
func Pack(ctx context.Context, sources []source.Source, opts Options) (h *format.Header, err error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources given")
	}
	if opts.Output == "" {
		return nil, fmt.Errorf("no output given")
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	h, err = createHeader(sources, opts)
	if err != nil {
		return nil, err
	}
	base := sources[0].Header()
	counts := SamplingCounts(base.Extent, opts.BlockSize)

	// Placeholder statistics; the encoded size does not depend on them.
	h.Sampling = make([]format.Sampling, len(counts))
	encoded, err := layoutSampling(h, counts)
	if err != nil {
		return nil, err
	}
	dataOffset := format.DataOffset(encoded)

	tmp, err := tempOutput(opts.Output)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	defer func() {
		if f != nil {
			f.Close()
		}
		if err != nil {
			os.Remove(tmp)
		}
	}()

	tlog := density.NewTimeLog()
	total := h.Sampling[len(h.Sampling)-1].ByteOffset + format.LevelByteSize(len(sources), counts[len(counts)-1], h.ValueType)
	density.Infof("Packing %d channel(s) %v of %s into %d levels, %s\n", len(sources), base.Extent, base.ValueType,
		len(counts), humanize.Bytes(uint64(total)))

	p := newPyramid(f, counts, dataOffset, len(sources), opts.BlockSize, h.ValueType)
	density.Debugf("Pyramid buffers take %s\n", humanize.Bytes(uint64(size.Of(p))))
	if err = stream(ctx, sources, p, opts.Progress); err != nil {
		return nil, err
	}
	if err = p.finish(); err != nil {
		return nil, err
	}

	h.Sampling = p.sampling()
	final, err := h.Encode()
	if err != nil {
		return nil, err
	}
	if len(final) != len(encoded) {
		return nil, fmt.Errorf("header size changed from %d to %d bytes", len(encoded), len(final))
	}
	if _, err = f.WriteAt(final, 0); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if err = f.Sync(); err != nil {
		return nil, err
	}
	err = f.Close()
	f = nil
	if err != nil {
		return nil, err
	}
	if err = storage.Upload(ctx, tmp, opts.Output); err != nil {
		return nil, err
	}
	tlog.Infof("Packed %s (%s)", opts.Output, humanize.Bytes(uint64(total)))
	return h, nil
}

// createHeader validates the sources and fills every header field except Sampling.
func createHeader(sources []source.Source, opts Options) (*format.Header, error) {
	base := sources[0].Header()
	if err := base.Validate(); err != nil {
		return nil, err
	}
	channels := make([]string, len(sources))
	for i, src := range sources {
		sh := src.Header()
		if i > 0 {
			if err := base.Compatible(sh); err != nil {
				return nil, err
			}
		}
		channels[i] = sh.Name
	}

	h := &format.Header{
		FormatVersion: format.Version,
		AxisOrder:     base.AxisOrder,
		Channels:      channels,
		ValueType:     base.ValueType,
		BlockSize:     opts.BlockSize,
		SpaceGroup: format.SpaceGroup{
			Number: base.SpacegroupNumber,
			Size:   base.CellSize,
		},
	}
	periodic := opts.Periodic
	for i := 0; i < 3; i++ {
		grid := float64(base.Grid[base.AxisOrder[i]])
		h.Origin[i] = float64(base.Origin[i]) / grid
		h.Dimensions[i] = float64(base.Extent[i]) / grid
		h.SpaceGroup.Angles[i] = base.CellAngles[i] * math.Pi / 180
		if base.Origin[i] != 0 || base.Extent[i] != base.Grid[base.AxisOrder[i]] {
			periodic = false
		}
	}
	if opts.Periodic && !periodic {
		density.Warningf("Map %q does not cover exactly one unit cell; packing as non-periodic\n", base.Name)
	}
	h.SpaceGroup.IsPeriodic = periodic
	if _, err := h.Cell(); err != nil {
		return nil, err
	}
	return h, nil
}

// layoutSampling sets the level byte offsets, which depend on the header size.  The
// header is re-encoded until the offsets are stable.
func layoutSampling(h *format.Header, counts []density.Grid) ([]byte, error) {
	var encoded []byte
	for attempt := 0; attempt < 4; attempt++ {
		offset := format.DataOffset(encoded)
		for i, count := range counts {
			h.Sampling[i] = format.Sampling{
				ByteOffset:  offset,
				Rate:        1 << i,
				SampleCount: count,
				ValuesInfo:  make([]format.ValuesInfo, len(h.Channels)),
			}
			offset += format.LevelByteSize(len(h.Channels), count, h.ValueType)
		}
		next, err := h.Encode()
		if err != nil {
			return nil, err
		}
		if len(next) == len(encoded) {
			return next, nil
		}
		encoded = next
	}
	return nil, fmt.Errorf("could not lay out header")
}

// tempOutput returns the local path the packed file is built in.
func tempOutput(output string) (string, error) {
	if !strings.Contains(output, "://") {
		return output + ".tmp", nil
	}
	f, err := os.CreateTemp("", "densitypack-*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return filepath.Clean(name), nil
}

// stream reads all sources in lockstep and feeds their slices to the pyramid.
func stream(ctx context.Context, sources []source.Source, p *pyramid, progress func(done, total int)) error {
	h := sources[0].Header()
	sliceSize := h.SliceSize()
	bufs := make([]source.Slices, len(sources))
	slice := make([][]float64, len(sources))
	done := 0
	for done < h.Extent[2] {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, src := range sources {
			if err := src.ReadSlices(&bufs[i]); err != nil {
				return err
			}
			if bufs[i].SliceCount != bufs[0].SliceCount || bufs[i].IsFinished != bufs[0].IsFinished {
				return fmt.Errorf("%w: channel %q returned %d slices, channel %q returned %d", density.ErrFormat,
					src.Header().Name, bufs[i].SliceCount, h.Name, bufs[0].SliceCount)
			}
		}
		if bufs[0].SliceCount == 0 {
			return fmt.Errorf("%w: source %q returned no slices", density.ErrFormat, h.Name)
		}
		for s := 0; s < bufs[0].SliceCount; s++ {
			for i := range bufs {
				slice[i] = bufs[i].Slice(s, sliceSize)
			}
			if err := p.add(slice); err != nil {
				return err
			}
		}
		done += bufs[0].SliceCount
		if progress != nil {
			progress(done, h.Extent[2])
		}
		if bufs[0].IsFinished && done < h.Extent[2] {
			return fmt.Errorf("%w: source %q finished after %d of %d slices", density.ErrFormat, h.Name, done, h.Extent[2])
		}
	}
	return nil
}
