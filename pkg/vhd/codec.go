package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// structChecksum computes the VHD checksum of a fixed-layout structure: the
// one's complement of the byte sum. The structure's own Checksum field must
// be zero when this is called.
func structChecksum(v interface{}) (uint32, error) {

	buf := new(bytes.Buffer)
	err := binary.Write(buf, binary.BigEndian, v)
	if err != nil {
		return 0, err
	}

	var sum uint32
	for _, x := range buf.Bytes() {
		sum += uint32(x)
	}

	return ^sum, nil
}

// MarshalFooter serializes f with a freshly computed checksum.
func MarshalFooter(f *Footer) ([]byte, error) {

	f.Checksum = 0
	sum, err := structChecksum(f)
	if err != nil {
		return nil, err
	}
	f.Checksum = sum

	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.BigEndian, f)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// ParseFooter decodes and validates a 512-byte footer.
func ParseFooter(b []byte) (*Footer, error) {

	if len(b) != FooterSize {
		return nil, errors.Errorf("vhd footer must be %d bytes, got %d", FooterSize, len(b))
	}

	f := new(Footer)
	err := binary.Read(bytes.NewReader(b), binary.BigEndian, f)
	if err != nil {
		return nil, err
	}

	if f.Cookie != cookieConectix {
		return nil, errors.Errorf("vhd footer has bad cookie %#x", f.Cookie)
	}

	declared := f.Checksum
	f.Checksum = 0
	sum, err := structChecksum(f)
	if err != nil {
		return nil, err
	}
	f.Checksum = declared

	if sum != declared {
		return nil, errors.Errorf("vhd footer checksum mismatch: declared %#x, computed %#x", declared, sum)
	}

	return f, nil
}

// MarshalHeader serializes h with a freshly computed checksum.
func MarshalHeader(h *Header) ([]byte, error) {

	h.Checksum = 0
	sum, err := structChecksum(h)
	if err != nil {
		return nil, err
	}
	h.Checksum = sum

	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.BigEndian, h)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// ParseHeader decodes and validates a 1024-byte sparse-disk header.
func ParseHeader(b []byte) (*Header, error) {

	if len(b) != HeaderSize {
		return nil, errors.Errorf("vhd header must be %d bytes, got %d", HeaderSize, len(b))
	}

	h := new(Header)
	err := binary.Read(bytes.NewReader(b), binary.BigEndian, h)
	if err != nil {
		return nil, err
	}

	if h.Cookie != cookieCxsparse {
		return nil, errors.Errorf("vhd header has bad cookie %#x", h.Cookie)
	}

	declared := h.Checksum
	h.Checksum = 0
	sum, err := structChecksum(h)
	if err != nil {
		return nil, err
	}
	h.Checksum = declared

	if sum != declared {
		return nil, errors.Errorf("vhd header checksum mismatch: declared %#x, computed %#x", declared, sum)
	}

	return h, nil
}

// chsGeometry packs the CHS disk geometry field for a disk of the given
// size, following the algorithm in the VHD specification.
func chsGeometry(size int64) uint32 {

	var cylinders, heads, sectorsPerTrack int64
	var cylinderTimesHeads int64

	totalSectors := size / SectorSize
	if totalSectors > 65535*16*255 {
		totalSectors = 65535 * 16 * 255
	}

	if totalSectors >= 65525*16*63 {
		sectorsPerTrack = 255
		heads = 16
		cylinderTimesHeads = totalSectors / sectorsPerTrack
	} else {
		sectorsPerTrack = 17
		cylinderTimesHeads = totalSectors / sectorsPerTrack
		heads = (cylinderTimesHeads + 1023) / 1024
		if heads < 4 {
			heads = 4
		}
		if cylinderTimesHeads >= (heads*1024) || heads > 16 {
			sectorsPerTrack = 31
			heads = 16
			cylinderTimesHeads = totalSectors / sectorsPerTrack
		}
		if cylinderTimesHeads >= heads*1024 {
			sectorsPerTrack = 63
			heads = 16
			cylinderTimesHeads = totalSectors / sectorsPerTrack
		}
	}
	cylinders = cylinderTimesHeads / heads

	return uint32(cylinders<<16 | heads<<8 | sectorsPerTrack)
}

// NewFooter fills in a footer for a freshly created disk of the given size
// and type. DataOffset should be 512 for sparse layouts and all-ones for
// fixed disks.
func NewFooter(size int64, diskType DiskType, dataOffset uint64) *Footer {

	f := &Footer{
		Cookie:             cookieConectix,
		Features:           0x00000002,
		FileFormatVersion:  0x00010000,
		DataOffset:         dataOffset,
		TimeStamp:          uint32(time.Now().Unix() - epochOffset),
		CreatorApplication: creatorApplication,
		CreatorVersion:     creatorVersion,
		CreatorHostOS:      creatorHostOS,
		OriginalSize:       uint64(size),
		CurrentSize:        uint64(size),
		DiskGeometry:       chsGeometry(size),
		DiskType:           uint32(diskType),
	}

	id := uuid.New()
	copy(f.UniqueID[:], id[:])

	return f
}

// NewHeader fills in a sparse-disk header for the layouts this package
// produces, with the BAT fixed at three sectors past the start of the file.
func NewHeader(maxTableEntries uint32, blockSize int64) *Header {
	return &Header{
		Cookie:          cookieCxsparse,
		DataOffset:      0xFFFFFFFFFFFFFFFF,
		TableOffset:     TableOffset,
		HeaderVersion:   0x00010000,
		MaxTableEntries: maxTableEntries,
		BlockSize:       uint32(blockSize),
	}
}

// NewFixedFooter returns the serialized footer for a fixed disk of the
// given size.
func NewFixedFooter(size int64) ([]byte, error) {
	return MarshalFooter(NewFooter(size, FixedDisk, 0xFFFFFFFFFFFFFFFF))
}
