package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DynamicWriter wraps an io.WriteSeeker; copying a RAW image into it and
// closing it produces a dynamic VHD. Regions the HolePredictor marks as
// holes get no block allocation at all, and the producer is expected to
// seek over them rather than write zeroes through them.
type DynamicWriter struct {
	w            io.WriteSeeker
	h            HolePredictor
	blockSize    int64
	footer       []byte
	blockOffsets []int64
	allocated    []bool
	end          int64
	cursor       int64
}

// NewDynamicWriter returns a DynamicWriter for a RAW image described by h.
// The image size must be a whole number of 2 MiB blocks.
func NewDynamicWriter(w io.WriteSeeker, h HolePredictor) (*DynamicWriter, error) {

	dw := &DynamicWriter{
		w:         w,
		h:         h,
		blockSize: DefaultBlockSize,
	}

	if h.Size()%dw.blockSize != 0 {
		return nil, errors.Errorf("vhd dynamic image size must be a multiple of %d bytes", dw.blockSize)
	}

	entries := h.Size() / dw.blockSize
	dw.blockOffsets = make([]int64, entries)
	dw.allocated = make([]bool, entries)

	err := dw.writeRedundantFooter()
	if err != nil {
		return nil, err
	}

	err = dw.writeHeader()
	if err != nil {
		return nil, err
	}

	err = dw.writeBAT()
	if err != nil {
		return nil, err
	}

	return dw, nil
}

func (w *DynamicWriter) writeRedundantFooter() error {

	footer, err := MarshalFooter(NewFooter(w.h.Size(), DynamicDisk, FooterSize))
	if err != nil {
		return err
	}

	// Keep the serialized bytes: the trailing copy must byte-match.
	w.footer = footer

	_, err = w.w.Write(footer)
	return err
}

func (w *DynamicWriter) writeHeader() error {

	header, err := MarshalHeader(NewHeader(uint32(len(w.blockOffsets)), w.blockSize))
	if err != nil {
		return err
	}

	_, err = w.w.Write(header)
	return err
}

func (w *DynamicWriter) writeBAT() error {

	entries := int64(len(w.blockOffsets))
	batSize := batSectors(entries) * SectorSize
	bat := bytes.Repeat([]byte{0xFF}, int(batSize))

	// Holes share an offset with the next allocated block; the allocated
	// slice is what distinguishes them.
	offset := int64(TableOffset) + batSize
	for i := int64(0); i < entries; i++ {
		w.blockOffsets[i] = offset
		if w.h.RegionIsHole(i*w.blockSize, w.blockSize) {
			continue
		}
		w.allocated[i] = true
		binary.BigEndian.PutUint32(bat[4*i:4*(i+1)], uint32(offset/SectorSize))
		offset += bitmapSize(w.blockSize) + w.blockSize
	}
	w.end = offset

	_, err := w.w.Write(bat)
	return err
}

// Write implements io.Writer. Each time the cursor crosses into a new
// allocated block an all-ones sector bitmap is emitted before the data.
func (w *DynamicWriter) Write(p []byte) (n int, err error) {

	block := w.cursor / w.blockSize
	delta := w.cursor % w.blockSize

	endCursor := w.cursor + int64(len(p))
	lastBlock := endCursor / w.blockSize
	if endCursor%w.blockSize == 0 {
		lastBlock--
	}

	for block <= lastBlock {

		if !w.allocated[block] {
			return n, errors.Errorf("write into unallocated block %d of dynamic vhd", block)
		}

		var k int64

		if delta == 0 {
			k, err = w.w.Seek(0, io.SeekCurrent)
			if err != nil {
				return
			}

			if w.blockOffsets[block] == k {
				_, err = w.w.Write(bytes.Repeat([]byte{0xFF}, int(bitmapSize(w.blockSize))))
				if err != nil {
					return
				}
			}
		}

		k, err = io.CopyN(w.w, bytes.NewReader(p), w.blockSize-delta)
		n += int(k)
		w.cursor += k
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return
		}

		p = p[k:]
		delta = 0
		block++
	}

	return
}

// Seek implements io.Seeker. Seeking forwards emits the bitmaps of any
// allocated blocks the seek jumps across; unallocated blocks are passed
// over without touching the output.
func (w *DynamicWriter) Seek(offset int64, whence int) (int64, error) {

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = w.cursor + offset
	case io.SeekEnd:
		abs = w.h.Size() + offset
	default:
		return 0, errors.New("invalid whence")
	}

	block := abs / w.blockSize
	delta := abs % w.blockSize
	l := int64(len(w.blockOffsets))

	if block > l || (block == l && delta > 0) {
		return l * w.blockSize, io.EOF
	}

	var trueOffset int64
	switch {
	case block == l:
		trueOffset = w.end
	case !w.allocated[block]:
		if delta > 0 {
			return w.cursor, errors.Errorf("seek into unallocated block %d of dynamic vhd", block)
		}
		trueOffset = w.blockOffsets[block]
	default:
		trueOffset = w.blockOffsets[block] + bitmapSize(w.blockSize) + delta
	}

	currentBlock := w.cursor / w.blockSize

	for {
		curr, err := w.w.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}

		if curr >= trueOffset || currentBlock >= l {
			break
		}

		if w.allocated[currentBlock] && curr <= w.blockOffsets[currentBlock] {
			_, err = w.w.Seek(w.blockOffsets[currentBlock], io.SeekStart)
			if err != nil {
				return 0, err
			}

			_, err = w.w.Write(bytes.Repeat([]byte{0xFF}, int(bitmapSize(w.blockSize))))
			if err != nil {
				return 0, err
			}
		}

		currentBlock++
	}

	_, err := w.w.Seek(trueOffset, io.SeekStart)
	if err != nil {
		return 0, err
	}

	if w.cursor < abs {
		w.cursor = abs
	}

	return abs, nil
}

// Close implements io.Closer, appending the trailing footer copy.
func (w *DynamicWriter) Close() error {

	if w.cursor < w.h.Size() {
		return errors.New("vhd dynamic image writer expected more raw image data than was received")
	}

	_, err := w.w.Write(w.footer)
	return err
}
