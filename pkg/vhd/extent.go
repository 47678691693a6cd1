package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// block is one allocation unit of a sparse extent: a sector allocation
// bitmap followed by the data sectors. A block does not exist until the
// first write that touches it.
type block struct {
	bitmap []byte
	data   []byte
}

// SparseExtent is an in-memory dynamic VHD under construction: a BAT-indexed
// collection of lazily allocated blocks. Writes can land at any offset and
// in any order; WriteTo serializes the whole thing as a dynamic disk.
type SparseExtent struct {
	size      int64
	blockSize int64
	entries   int64
	blocks    map[int64]*block
}

// NewSparseExtent prepares a builder for a dynamic VHD of the given virtual
// size. A blockSize of 0 selects the default 2 MiB.
func NewSparseExtent(size, blockSize int64) (*SparseExtent, error) {

	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	if blockSize%SectorSize != 0 || blockSize <= 0 {
		return nil, errors.Errorf("block size %d is not a multiple of the sector size", blockSize)
	}

	if size <= 0 || size%SectorSize != 0 {
		return nil, errors.Errorf("disk size %d is not a positive multiple of the sector size", size)
	}

	return &SparseExtent{
		size:      size,
		blockSize: blockSize,
		entries:   (size + blockSize - 1) / blockSize,
		blocks:    make(map[int64]*block),
	}, nil
}

// Size returns the virtual disk size.
func (e *SparseExtent) Size() int64 {
	return e.size
}

// BlockSize returns the configured block size.
func (e *SparseExtent) BlockSize() int64 {
	return e.blockSize
}

// writeToBlock copies p into block idx at the given in-block offset,
// allocating the block on first touch. The caller is responsible for
// splitting writes so they fit; anything else is a bug, not a data problem.
func (e *SparseExtent) writeToBlock(idx, delta int64, p []byte) error {

	if delta+int64(len(p)) > e.blockSize {
		return errors.Errorf("write of %d bytes at offset %d within block %d overruns the %d byte block", len(p), delta, idx, e.blockSize)
	}

	b, ok := e.blocks[idx]
	if !ok {
		b = &block{
			bitmap: bytes.Repeat([]byte{0xFF}, int(bitmapSize(e.blockSize))),
			data:   make([]byte, e.blockSize),
		}
		e.blocks[idx] = b
	}

	copy(b.data[delta:], p)
	return nil
}

// WriteBuffer copies p into the extent at the given absolute offset,
// splitting it across as many blocks as it touches.
func (e *SparseExtent) WriteBuffer(p []byte, offset int64) error {

	if offset < 0 || offset+int64(len(p)) > e.size {
		return errors.Errorf("write of %d bytes at offset %d exceeds the %d byte disk", len(p), offset, e.size)
	}

	cursor := offset
	for len(p) > 0 {
		delta := cursor % e.blockSize
		n := e.blockSize - delta
		if n > int64(len(p)) {
			n = int64(len(p))
		}

		err := e.writeToBlock(cursor/e.blockSize, delta, p[:n])
		if err != nil {
			return err
		}

		p = p[n:]
		cursor += n
	}

	return nil
}

// allocated returns the indices of allocated blocks in ascending order.
func (e *SparseExtent) allocated() []int64 {
	indices := make([]int64, 0, len(e.blocks))
	for idx := range e.blocks {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// WriteTo serializes the extent as a complete dynamic VHD: footer, header,
// BAT, allocated blocks in ascending index order, and the trailing footer
// copy the format requires.
func (e *SparseExtent) WriteTo(w io.Writer) (int64, error) {

	var written int64

	footer, err := MarshalFooter(NewFooter(e.size, DynamicDisk, FooterSize))
	if err != nil {
		return written, err
	}

	header, err := MarshalHeader(NewHeader(uint32(e.entries), e.blockSize))
	if err != nil {
		return written, err
	}

	batSize := (e.entries*4 + SectorSize - 1) / SectorSize * SectorSize
	bat := bytes.Repeat([]byte{0xFF}, int(batSize))

	indices := e.allocated()

	// Stamp final sector offsets into the BAT before anything is written.
	offset := TableOffset + batSize
	for _, idx := range indices {
		binary.BigEndian.PutUint32(bat[4*idx:4*(idx+1)], uint32(offset/SectorSize))
		offset += bitmapSize(e.blockSize) + e.blockSize
	}

	for _, b := range [][]byte{footer, header, bat} {
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	for _, idx := range indices {
		blk := e.blocks[idx]
		for _, b := range [][]byte{blk.bitmap, blk.data} {
			n, err := w.Write(b)
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
	}

	n, err := w.Write(footer)
	written += int64(n)
	return written, err
}

// WriteFile serializes the extent to a new file at path.
func (e *SparseExtent) WriteFile(path string) error {

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = e.WriteTo(f)
	if err != nil {
		return err
	}

	return f.Close()
}
