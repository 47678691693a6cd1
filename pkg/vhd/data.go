package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

// Layout constants for the VHD format. Everything in a VHD is measured in
// 512-byte sectors, and the builder always places the dynamic-disk header
// immediately after the leading footer and the BAT immediately after that.
const (
	SectorSize       = 512
	DefaultBlockSize = 0x200000

	FooterSize = 512
	HeaderSize = 1024

	// TableOffset is where this package always places the BAT in the
	// dynamic layouts it produces: footer + header = 3 sectors.
	TableOffset = FooterSize + HeaderSize

	// BATUnused marks an unallocated entry in the block allocation table.
	BATUnused = uint32(0xFFFFFFFF)

	cookieConectix = uint64(0x636F6E6563746978) // "conectix"
	cookieCxsparse = uint64(0x6378737061727365) // "cxsparse"

	creatorApplication = uint32(0x766B6974) // "vkit"
	creatorVersion     = uint32(0x00010000)
	creatorHostOS      = uint32(0x5769326B) // "Wi2k"

	// VHD timestamps count seconds since 2000-01-01 00:00:00 UTC.
	epochOffset = 946684800
)

// DiskType is the footer's disk type field.
type DiskType uint32

// Disk types this package works with.
const (
	FixedDisk        DiskType = 2
	DynamicDisk      DiskType = 3
	DifferencingDisk DiskType = 4
)

func (t DiskType) String() string {
	switch t {
	case FixedDisk:
		return "fixed"
	case DynamicDisk:
		return "dynamic"
	case DifferencingDisk:
		return "differencing"
	default:
		return "unknown"
	}
}

// Footer is the 512-byte structure trailing every VHD. Dynamic and
// differencing disks carry a second copy of it at the front of the file.
type Footer struct { // 512 bytes
	Cookie             uint64
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication uint32
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometry       uint32
	DiskType           uint32
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         byte
	Reserved           [427]byte
}

// Header is the sparse-disk header present on dynamic and differencing
// disks, pointed at by the footer's DataOffset field.
type Header struct { // 1024 bytes
	Cookie              uint64
	DataOffset          uint64
	TableOffset         uint64
	HeaderVersion       uint32
	MaxTableEntries     uint32
	BlockSize           uint32
	Checksum            uint32
	ParentUniqueID      [16]byte
	ParentTimeStamp     uint32
	Reserved            [4]byte
	ParentUnicodeName   [512]byte
	ParentLocatorEntry1 [24]byte
	ParentLocatorEntry2 [24]byte
	ParentLocatorEntry3 [24]byte
	ParentLocatorEntry4 [24]byte
	ParentLocatorEntry5 [24]byte
	ParentLocatorEntry6 [24]byte
	ParentLocatorEntry7 [24]byte
	ParentLocatorEntry8 [24]byte
	Reserved2           [256]byte
}

// bitmapSize returns the sector-rounded size of the per-block sector
// allocation bitmap for the given block size: one bit per data sector.
func bitmapSize(blockSize int64) int64 {
	sectors := blockSize / SectorSize
	return ((sectors+7)/8 + SectorSize - 1) / SectorSize * SectorSize
}

// bitmapBit reports whether sector's bit is set. Bits are packed
// most-significant first within each byte.
func bitmapBit(bitmap []byte, sector int64) bool {
	return bitmap[sector/8]&(1<<(7-uint(sector%8))) != 0
}

func setBitmapBit(bitmap []byte, sector int64) {
	bitmap[sector/8] |= 1 << (7 - uint(sector%8))
}
