package format

import "github.com/janelia-flyem/densityserver/density"

// LevelByteSize returns the number of bytes taken by one sampling level.
func LevelByteSize(channels int, count density.Grid, vt density.ValueType) int64 {
	return int64(channels) * count.Volume() * int64(vt.Size())
}

// BlockCount returns the number of blocks per axis of a level.
func BlockCount(count density.Grid, blockSize int) density.Grid {
	var n density.Grid
	for i := 0; i < 3; i++ {
		n[i] = (count[i] + blockSize - 1) / blockSize
	}
	return n
}

// BlockBox returns the grid box covered by block c within a level.
func BlockBox(c density.BlockCoord, count density.Grid, blockSize int) density.GridBox {
	var b density.GridBox
	for i := 0; i < 3; i++ {
		b.A[i] = c[i] * blockSize
		b.B[i] = min(b.A[i]+blockSize, count[i])
	}
	return b
}

// BlockOffset returns the byte offset of block c relative to its level's data.
func BlockOffset(c density.BlockCoord, count density.Grid, blockSize, channels int, vt density.ValueType) int64 {
	bs := int64(blockSize)
	n0, n1, n2 := int64(count[0]), int64(count[1]), int64(count[2])
	u, v, w := int64(c[0]), int64(c[1]), int64(c[2])
	dL := min(bs, n2-w*bs)
	dK := min(bs, n1-v*bs)
	elems := w*bs*n0*n1 + v*bs*n0*dL + u*bs*dK*dL
	return elems * int64(channels) * int64(vt.Size())
}

// BlockByteSize returns the number of bytes of block c, all channels included.
func BlockByteSize(c density.BlockCoord, count density.Grid, blockSize, channels int, vt density.ValueType) int64 {
	size := BlockBox(c, count, blockSize).Volume()
	return size * int64(channels) * int64(vt.Size())
}

// Locate returns the absolute file offset and size of block c at the given level.
func (h *Header) Locate(level int, c density.BlockCoord) (offset, size int64) {
	s := h.Sampling[level]
	n := len(h.Channels)
	offset = s.ByteOffset + BlockOffset(c, s.SampleCount, h.BlockSize, n, h.ValueType)
	size = BlockByteSize(c, s.SampleCount, h.BlockSize, n, h.ValueType)
	return
}
