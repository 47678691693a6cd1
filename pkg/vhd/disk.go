package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/vorteil/vhdkit/pkg/vio"
)

// Disk wraps an open file handle and exposes the narrow set of operations
// the merge engine needs: structure reads, BAT manipulation, block
// coalescing, and footer rewrites. It never opens or closes the handle
// itself; the caller owns the handle's lifetime.
type Disk struct {
	f      vio.File
	footer *Footer
	header *Header
	bat    []uint32

	// eof is the offset of the trailing footer: everything before it is
	// structure and block data, everything at it gets rewritten when the
	// footer changes.
	eof int64
}

// NewDisk wraps an already-open handle. Call ReadHeaderAndFooter before
// anything else.
func NewDisk(f vio.File) *Disk {
	return &Disk{f: f}
}

// Footer returns the decoded footer. Nil until ReadHeaderAndFooter.
func (d *Disk) Footer() *Footer {
	return d.footer
}

// Header returns the decoded sparse-disk header. Nil for fixed disks.
func (d *Disk) Header() *Header {
	return d.header
}

// BAT returns the in-memory block allocation table.
func (d *Disk) BAT() []uint32 {
	return d.bat
}

// ReadHeaderAndFooter decodes the trailing footer and, for sparse disk
// types, the header it points at.
func (d *Disk) ReadHeaderAndFooter() error {

	size, err := vio.FileSize(d.f)
	if err != nil {
		return err
	}

	if size < FooterSize {
		return errors.Errorf("%s is too short to be a vhd", d.f.Name())
	}

	buf := make([]byte, FooterSize)
	_, err = d.f.ReadAt(buf, size-FooterSize)
	if err != nil {
		return errors.Wrapf(err, "reading footer of %s", d.f.Name())
	}

	d.footer, err = ParseFooter(buf)
	if err != nil {
		return errors.Wrapf(err, "parsing footer of %s", d.f.Name())
	}

	d.eof = size - FooterSize

	switch DiskType(d.footer.DiskType) {
	case DynamicDisk, DifferencingDisk:
	default:
		d.header = nil
		return nil
	}

	buf = make([]byte, HeaderSize)
	_, err = d.f.ReadAt(buf, int64(d.footer.DataOffset))
	if err != nil {
		return errors.Wrapf(err, "reading header of %s", d.f.Name())
	}

	d.header, err = ParseHeader(buf)
	if err != nil {
		return errors.Wrapf(err, "parsing header of %s", d.f.Name())
	}

	return nil
}

// ReadBlockAllocationTable loads the BAT into memory.
func (d *Disk) ReadBlockAllocationTable() error {

	if d.header == nil {
		return errors.Errorf("%s has no block allocation table", d.f.Name())
	}

	entries := int64(d.header.MaxTableEntries)
	buf := make([]byte, entries*4)
	_, err := d.f.ReadAt(buf, int64(d.header.TableOffset))
	if err != nil {
		return errors.Wrapf(err, "reading block allocation table of %s", d.f.Name())
	}

	d.bat = make([]uint32, entries)
	for i := int64(0); i < entries; i++ {
		d.bat[i] = binary.BigEndian.Uint32(buf[4*i : 4*(i+1)])
	}

	return nil
}

// batSectors returns the number of sectors a table with n entries occupies.
func batSectors(n int64) int64 {
	return (n*4 + SectorSize - 1) / SectorSize
}

// writeBAT serializes the in-memory BAT to the given offset, padded to a
// whole number of sectors with 0xFF.
func (d *Disk) writeBAT(offset int64) error {

	buf := bytes.Repeat([]byte{0xFF}, int(batSectors(int64(len(d.bat)))*SectorSize))
	for i, entry := range d.bat {
		binary.BigEndian.PutUint32(buf[4*i:4*(i+1)], entry)
	}

	_, err := d.f.WriteAt(buf, offset)
	return err
}

// writeHeader rewrites the sparse-disk header in place.
func (d *Disk) writeHeader() error {

	buf, err := MarshalHeader(d.header)
	if err != nil {
		return err
	}

	_, err = d.f.WriteAt(buf, int64(d.footer.DataOffset))
	return err
}

// EnsureBATSize grows the BAT to hold at least min entries. If the larger
// table no longer fits its reserved sectors it is relocated to the current
// end of data and the header updated to match.
func (d *Disk) EnsureBATSize(min uint32) error {

	if d.header == nil {
		return errors.Errorf("%s has no block allocation table", d.f.Name())
	}

	if uint32(len(d.bat)) >= min {
		return nil
	}

	oldSectors := batSectors(int64(len(d.bat)))
	newSectors := batSectors(int64(min))

	for uint32(len(d.bat)) < min {
		d.bat = append(d.bat, BATUnused)
	}
	d.header.MaxTableEntries = min

	if newSectors > oldSectors {
		// Relocate the table past the last block; the trailing footer
		// will be rewritten beyond it.
		d.header.TableOffset = uint64(d.eof)
		d.eof += newSectors * SectorSize
	}

	err := d.writeBAT(int64(d.header.TableOffset))
	if err != nil {
		return errors.Wrapf(err, "growing block allocation table of %s", d.f.Name())
	}

	return d.writeHeader()
}

// ContainsBlock reports whether block idx is allocated on this disk.
func (d *Disk) ContainsBlock(idx int) bool {
	return idx < len(d.bat) && d.bat[idx] != BATUnused
}

// readBlock loads a block's bitmap and data sectors.
func (d *Disk) readBlock(idx int) (bitmap, data []byte, err error) {

	blockSize := int64(d.header.BlockSize)
	bmSize := bitmapSize(blockSize)

	buf := make([]byte, bmSize+blockSize)
	_, err = d.f.ReadAt(buf, int64(d.bat[idx])*SectorSize)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading block %d of %s", idx, d.f.Name())
	}

	return buf[:bmSize], buf[bmSize:], nil
}

// writeBATEntry persists a single BAT entry in place.
func (d *Disk) writeBATEntry(idx int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], d.bat[idx])
	_, err := d.f.WriteAt(buf[:], int64(d.header.TableOffset)+int64(idx)*4)
	return err
}

// CoalesceBlock merges block idx of src into this disk. Only the sectors
// marked in the source's allocation bitmap are considered; the returned
// count is the number of data bytes those sectors amount to. If this disk
// has not allocated the block yet the source block is adopted wholesale at
// the end of the file.
func (d *Disk) CoalesceBlock(src *Disk, idx int) (int64, error) {

	if !src.ContainsBlock(idx) {
		return 0, errors.Errorf("source %s has no block %d", src.f.Name(), idx)
	}

	srcBitmap, srcData, err := src.readBlock(idx)
	if err != nil {
		return 0, err
	}

	blockSize := int64(d.header.BlockSize)
	bmSize := bitmapSize(blockSize)
	sectors := blockSize / SectorSize

	var merged int64
	for s := int64(0); s < sectors; s++ {
		if bitmapBit(srcBitmap, s) {
			merged += SectorSize
		}
	}

	if !d.ContainsBlock(idx) {

		offset := d.eof
		buf := make([]byte, bmSize+blockSize)
		copy(buf, srcBitmap)
		copy(buf[bmSize:], srcData)

		_, err = d.f.WriteAt(buf, offset)
		if err != nil {
			return 0, errors.Wrapf(err, "appending block %d to %s", idx, d.f.Name())
		}

		d.bat[idx] = uint32(offset / SectorSize)
		err = d.writeBATEntry(idx)
		if err != nil {
			return 0, errors.Wrapf(err, "updating block allocation table of %s", d.f.Name())
		}

		d.eof = offset + bmSize + blockSize
		return merged, nil
	}

	dstOffset := int64(d.bat[idx]) * SectorSize
	dstBitmap := make([]byte, bmSize)
	_, err = d.f.ReadAt(dstBitmap, dstOffset)
	if err != nil {
		return 0, errors.Wrapf(err, "reading bitmap of block %d of %s", idx, d.f.Name())
	}

	for s := int64(0); s < sectors; s++ {
		if !bitmapBit(srcBitmap, s) {
			continue
		}
		_, err = d.f.WriteAt(srcData[s*SectorSize:(s+1)*SectorSize], dstOffset+bmSize+s*SectorSize)
		if err != nil {
			return 0, errors.Wrapf(err, "writing sector %d of block %d to %s", s, idx, d.f.Name())
		}
		setBitmapBit(dstBitmap, s)
	}

	_, err = d.f.WriteAt(dstBitmap, dstOffset)
	if err != nil {
		return 0, errors.Wrapf(err, "writing bitmap of block %d of %s", idx, d.f.Name())
	}

	return merged, nil
}

// WriteFooter rewrites the trailing footer at the current end of data, and
// the leading copy on sparse layouts. Block allocation may have moved the
// end of the file since the footer was last written, so this is required
// even when no footer field changed.
func (d *Disk) WriteFooter() error {

	buf, err := MarshalFooter(d.footer)
	if err != nil {
		return err
	}

	_, err = d.f.WriteAt(buf, d.eof)
	if err != nil {
		return errors.Wrapf(err, "writing footer of %s", d.f.Name())
	}

	if d.header != nil {
		_, err = d.f.WriteAt(buf, 0)
		if err != nil {
			return errors.Wrapf(err, "writing leading footer of %s", d.f.Name())
		}
	}

	return nil
}
