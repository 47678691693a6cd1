package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/pkg/errors"
)

const (
	// Magic is "KDMV" on disk (little endian).
	Magic      = 0x564d444b
	SectorSize = 0x200
)

const (
	flagUseZeroedGrainTableEntries = 1 << 2
	flagDataCompressed             = 1 << 16
	flagDataHasMarkers             = 1 << 17
)

// Compression algorithm is always deflate for stream-optimized extents and
// always none for monolithic sparse extents.
const compressionDeflate = 1

// Marker types, needed when reading a stream-optimized extent sequentially.
const (
	markerEOS            = 0
	markerGrainTable     = 1
	markerGrainDirectory = 2
	markerFooter         = 3
)

// Header is the 512-byte sparse extent header.
type Header struct {
	MagicNumber        uint32 // 0
	Version            uint32 // 4
	Flags              uint32 // 8
	Capacity           uint64 // 12
	GrainSize          uint64 // 20
	DescriptorOffset   uint64 // 28
	DescriptorSize     uint64 // 36
	NumGTEsPerGT       uint32 // 44
	RGDOffset          uint64 // 48
	GDOffset           uint64 // 56
	OverHead           uint64 // 64
	UncleanShutdown    byte   // 72
	SingleEndLineChar  byte   // 73
	NonEndLineChar     byte   // 74
	DoubleEndLineChar1 byte   // 75
	DoubleEndLineChar2 byte   // 76
	CompressAlgorithm  uint16 // 77
	Pad                [433]uint8
}

func (h *Header) validate() error {

	if h.MagicNumber != Magic {
		return errors.Errorf("bad vmdk magic number %#x", h.MagicNumber)
	}

	if h.SingleEndLineChar != '\n' || h.NonEndLineChar != ' ' ||
		h.DoubleEndLineChar1 != '\r' || h.DoubleEndLineChar2 != '\n' {
		return errors.New("vmdk header end-of-line sentinels are corrupt")
	}

	if h.GrainSize == 0 || h.NumGTEsPerGT == 0 {
		return errors.New("vmdk header has zero grain geometry")
	}

	return nil
}

// Grain is one unit of sparse data from a VMDK: the absolute byte offset it
// belongs at and its contents.
type Grain struct {
	Offset int64
	Data   []byte
}

// GrainReader yields a VMDK's allocated grains in strictly ascending offset
// order, ending with io.EOF.
type GrainReader interface {

	// Next returns the next allocated grain, or io.EOF after the last.
	Next() (*Grain, error)

	// Capacity returns the logical size of the disk in bytes.
	Capacity() int64
}
