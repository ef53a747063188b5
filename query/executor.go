/*
Package query extracts regions of packed density files.  Each query runs as a small
state machine:

	Init -> HeaderLoaded -> LevelSelected -> BlocksIdentified -> DataComposed -> Encoded

Empty and Error results skip straight to encoding, so every query produces a complete
document.
*/
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/encode"
	"github.com/janelia-flyem/densityserver/format"
	"github.com/janelia-flyem/densityserver/storage"
)

// Params describe one query.
type Params struct {
	// SourceID is echoed in the result, e.g. "x-ray/1cbs".
	SourceID string

	// Ref locates the packed file, see storage.Open.
	Ref string

	Box density.QueryBox

	// Detail selects the output size budget; 0 is the smallest.
	Detail int

	// ForcedLevel, if positive, selects sampling level ForcedLevel-1 directly.
	ForcedLevel int

	// Binary selects BinaryCIF output instead of CIF text.
	Binary bool
}

// Outcome reports how a query ended.
type Outcome struct {
	Kind  encode.Kind
	Err   error
	Level int
	GUID  string
}

// Executor runs queries.  It holds no per-query state and is safe for concurrent use.
type Executor struct {
	Limits        Limits
	ServerVersion string

	// Pending, if set, counts queries in progress.
	Pending *Counter

	// Headers, if set, caches decoded headers.
	Headers *HeaderCache
}

type state uint8

const (
	stateInit state = iota
	stateHeaderLoaded
	stateLevelSelected
	stateBlocksIdentified
	stateDataComposed
	stateEncoded
	stateEmpty
	stateError
)

var stateNames = [...]string{"init", "header loaded", "level selected", "blocks identified", "data composed", "encoded", "empty", "error"}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// run is the state of one query.
type run struct {
	ctx context.Context
	e   *Executor
	p   Params

	reader storage.Reader
	header *format.Header

	box    density.FractionalBox // storage axis order
	level  int
	domain density.Domain  // level data domain
	query  density.GridBox // level grid samples returned
	blocks []UniqueBlock
	values [][]float64

	err      error // reported in the result
	writeErr error // result could not be written
	result   encode.Result
}

// Execute runs a query and writes its result to w.  Problems with the query itself are
// reported inside the written document; the returned error is non-nil only if the
// document could not be written.
func (e *Executor) Execute(ctx context.Context, p Params, w io.Writer) (Outcome, error) {
	r := e.execute(ctx, p, w)
	out := Outcome{Kind: r.result.Kind, Err: r.err, Level: r.level, GUID: r.result.GUID}
	return out, r.writeErr
}

func (e *Executor) execute(ctx context.Context, p Params, w io.Writer) *run {
	e.Pending.inc()
	defer e.Pending.dec()

	r := &run{ctx: ctx, e: e, p: p}
	r.result = encode.Result{
		ServerVersion: e.ServerVersion,
		Time:          time.Now(),
		GUID:          uuid.NewV4().String(),
		SourceID:      p.SourceID,
		Box:           p.Box,
	}
	defer r.close()

	tlog := density.NewTimeLog()
	st := stateInit
	for st != stateEncoded {
		next := r.step(st, w)
		density.Debugf("query %s: %s -> %s\n", r.result.GUID, st, next)
		st = next
	}
	tlog.Debugf("query %s on %q ended %s", r.result.GUID, p.SourceID, r.result.Kind)
	return r
}

// step performs the work of one state and returns the next.  Panics during a step
// become Error results.
func (r *run) step(st state, w io.Writer) (next state) {
	defer func() {
		if rec := recover(); rec != nil {
			density.Criticalf("query %s panicked in state %s: %v\n", r.result.GUID, st, rec)
			r.err = fmt.Errorf("internal error: %v", rec)
			next = stateError
			if st == stateEmpty || st == stateError || st == stateDataComposed {
				next = stateEncoded
			}
		}
	}()
	switch st {
	case stateInit:
		return r.loadHeader()
	case stateHeaderLoaded:
		return r.selectLevel()
	case stateLevelSelected:
		return r.identifyBlocks()
	case stateBlocksIdentified:
		return r.compose()
	case stateDataComposed:
		r.result.Kind = encode.Data
		return r.encode(w)
	case stateEmpty:
		r.result.Kind = encode.Empty
		return r.encode(w)
	case stateError:
		r.result.Kind = encode.Error
		r.result.Error = r.err.Error()
		r.result.Header = nil
		r.result.Values = nil
		return r.encode(w)
	}
	r.err = fmt.Errorf("query in unknown state %d", st)
	return stateError
}

func (r *run) fail(err error) state {
	r.err = err
	return stateError
}

func (r *run) close() {
	if r.reader != nil {
		if err := r.reader.Close(); err != nil {
			density.Errorf("closing %q: %v\n", r.p.Ref, err)
		}
		r.reader = nil
	}
}

func (r *run) loadHeader() state {
	reader, err := storage.Open(r.ctx, r.p.Ref)
	if err != nil {
		return r.fail(err)
	}
	r.reader = reader
	h, err := r.e.Headers.Load(reader)
	if err != nil {
		return r.fail(err)
	}
	r.header = h
	return stateHeaderLoaded
}

// queryBox returns the requested box in fractional storage order, clipped to the data
// for non-periodic files.  ok is false if the box misses the data.
func (r *run) queryBox() (box density.FractionalBox, ok bool, err error) {
	h := r.header
	switch b := r.p.Box.(type) {
	case nil, density.CellBox:
		box = h.DataBox()
	case density.FractionalBox:
		box = b.Permute(h.AxisOrder)
	case density.CartesianBox:
		cell, err := h.Cell()
		if err != nil {
			return box, false, err
		}
		box = cell.FractionalBox(b).Permute(h.AxisOrder)
	default:
		return box, false, fmt.Errorf("unsupported query box %T", r.p.Box)
	}
	if box.A.IsNaN() || box.B.IsNaN() {
		return box, false, fmt.Errorf("the query box is not defined")
	}
	if !h.SpaceGroup.IsPeriodic {
		box, ok = box.Intersect(h.DataBox())
		if !ok {
			return box, false, nil
		}
	}
	if v := box.Volume(); v > r.e.Limits.MaxFractionalBoxVolume {
		return box, false, fmt.Errorf("%w: the query box volume %g is too big (limit %g)", density.ErrLimit, v, r.e.Limits.MaxFractionalBoxVolume)
	}
	return box, true, nil
}

func (r *run) sample(level int) (density.Domain, density.GridBox, []UniqueBlock) {
	h := r.header
	d := h.DataDomain(level)
	periodic := h.SpaceGroup.IsPeriodic
	q := GridBox(d, r.box, periodic)
	return d, q, IdentifyBlocks(d.SampleCount, h.BlockSize, q, periodic)
}

func (r *run) selectLevel() state {
	box, ok, err := r.queryBox()
	if err != nil {
		return r.fail(err)
	}
	if !ok {
		return stateEmpty
	}
	r.box = box

	h := r.header
	maxBlocks := r.e.Limits.MaxRequestBlockCount
	choose := func(level int) state {
		r.level = level
		r.domain, r.query, r.blocks = r.sample(level)
		if maxBlocks > 0 && len(r.blocks) > maxBlocks {
			return r.fail(fmt.Errorf("%w: query needs %d blocks at level %d (limit %d)", density.ErrLimit, len(r.blocks), level, maxBlocks))
		}
		return stateLevelSelected
	}
	if r.p.ForcedLevel > 0 {
		return choose(min(len(h.Sampling), r.p.ForcedLevel) - 1)
	}

	budget := r.e.Limits.VoxelBudget(r.p.Detail)
	for level := range h.Sampling {
		d := h.DataDomain(level)
		if d.GridBox(box).Volume() > budget {
			continue
		}
		_, _, blocks := r.sample(level)
		if maxBlocks <= 0 || len(blocks) <= maxBlocks {
			return choose(level)
		}
	}
	// Nothing fits: fall back to the coarsest level.  It is still held to the block
	// limit, so a box too large even there is a limit error rather than an unbounded read.
	return choose(len(h.Sampling) - 1)
}

func (r *run) identifyBlocks() state {
	if len(r.blocks) == 0 || r.query.Empty() {
		return stateEmpty
	}
	n := r.query.Volume()
	r.values = make([][]float64, len(r.header.Channels))
	for c := range r.values {
		r.values[c] = make([]float64, n)
	}
	return stateBlocksIdentified
}

func (r *run) compose() state {
	h := r.header
	count := r.domain.SampleCount
	channels := len(h.Channels)
	var raw []byte
	var decoded []float64
	for _, b := range r.blocks {
		if err := r.ctx.Err(); err != nil {
			return r.fail(err)
		}
		offset, size := h.Locate(r.level, b.Coord)
		if cap(raw) < int(size) {
			raw = make([]byte, size)
		}
		raw = raw[:size]
		if n, err := r.reader.ReadAt(raw, offset); err != nil && !(errors.Is(err, io.EOF) && n == len(raw)) {
			return r.fail(fmt.Errorf("reading block %v of level %d: %w", b.Coord, r.level, err))
		}
		bbox := format.BlockBox(b.Coord, count, h.BlockSize)
		per := int(bbox.Volume())
		if cap(decoded) < per {
			decoded = make([]float64, per)
		}
		decoded = decoded[:per]
		chBytes := per * h.ValueType.Size()
		for c := 0; c < channels; c++ {
			h.ValueType.Decode(decoded, raw[c*chBytes:(c+1)*chBytes])
			composeBlock(r.values[c], r.query, decoded, bbox, b.Shifts)
		}
	}
	r.result.Header = h
	r.result.Level = r.level
	r.result.Domain = r.domain.Sub(r.query)
	r.result.Values = r.values
	return stateDataComposed
}

func (r *run) encode(w io.Writer) state {
	if err := encode.Write(w, &r.result, r.p.Binary); err != nil {
		r.writeErr = fmt.Errorf("writing result: %w", err)
	}
	return stateEncoded
}
