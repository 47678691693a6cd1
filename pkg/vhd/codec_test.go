package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterRoundTrip(t *testing.T) {

	f := NewFooter(DefaultBlockSize, DynamicDisk, FooterSize)

	b, err := MarshalFooter(f)
	require.NoError(t, err)
	require.Len(t, b, FooterSize)

	g, err := ParseFooter(b)
	require.NoError(t, err)

	assert.Equal(t, f.Cookie, g.Cookie)
	assert.Equal(t, uint64(DefaultBlockSize), g.CurrentSize)
	assert.Equal(t, uint64(DefaultBlockSize), g.OriginalSize)
	assert.Equal(t, uint32(DynamicDisk), g.DiskType)
	assert.Equal(t, uint64(FooterSize), g.DataOffset)
	assert.Equal(t, f.UniqueID, g.UniqueID)
	assert.NotZero(t, g.Checksum)
}

func TestFooterChecksumMismatch(t *testing.T) {

	b, err := MarshalFooter(NewFooter(DefaultBlockSize, FixedDisk, 0xFFFFFFFFFFFFFFFF))
	require.NoError(t, err)

	// Flip a byte outside the cookie and checksum fields.
	b[100] ^= 0xFF

	_, err = ParseFooter(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestFooterBadCookie(t *testing.T) {

	b, err := MarshalFooter(NewFooter(DefaultBlockSize, FixedDisk, 0xFFFFFFFFFFFFFFFF))
	require.NoError(t, err)

	b[0] = 'x'

	_, err = ParseFooter(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cookie")
}

func TestFooterBadLength(t *testing.T) {
	_, err := ParseFooter(make([]byte, FooterSize-1))
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {

	h := NewHeader(16, DefaultBlockSize)

	b, err := MarshalHeader(h)
	require.NoError(t, err)
	require.Len(t, b, HeaderSize)

	g, err := ParseHeader(b)
	require.NoError(t, err)

	assert.Equal(t, uint32(16), g.MaxTableEntries)
	assert.Equal(t, uint32(DefaultBlockSize), g.BlockSize)
	assert.Equal(t, uint64(TableOffset), g.TableOffset)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), g.DataOffset)
	assert.NotZero(t, g.Checksum)
}

func TestHeaderChecksumMismatch(t *testing.T) {

	b, err := MarshalHeader(NewHeader(16, DefaultBlockSize))
	require.NoError(t, err)

	b[200] ^= 0xFF

	_, err = ParseHeader(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestCHSGeometry(t *testing.T) {

	decode := func(g uint32) (c, h, s int64) {
		return int64(g >> 16), int64(g >> 8 & 0xFF), int64(g & 0xFF)
	}

	// Small disks use the 17 sectors-per-track branch.
	c, h, s := decode(chsGeometry(DefaultBlockSize))
	assert.Equal(t, int64(17), s)
	assert.Equal(t, int64(4), h)
	assert.True(t, c > 0)

	// Large disks saturate at 16 heads and 255 sectors per track.
	c, h, s = decode(chsGeometry(64 << 30))
	assert.Equal(t, int64(255), s)
	assert.Equal(t, int64(16), h)
	assert.True(t, c > 0)

	// The geometry never describes more sectors than the disk has.
	for _, size := range []int64{1 << 20, 100 << 20, 3 << 30} {
		c, h, s = decode(chsGeometry(size))
		assert.True(t, c*h*s*SectorSize <= size, "size %d", size)
	}
}

func TestNewFixedFooter(t *testing.T) {

	b, err := NewFixedFooter(DefaultBlockSize)
	require.NoError(t, err)
	require.Len(t, b, FooterSize)

	f, err := ParseFooter(b)
	require.NoError(t, err)

	assert.Equal(t, uint32(FixedDisk), f.DiskType)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), f.DataOffset)
	assert.Equal(t, uint64(DefaultBlockSize), f.CurrentSize)
}

func TestBitmapSize(t *testing.T) {
	assert.Equal(t, int64(SectorSize), bitmapSize(DefaultBlockSize))
	assert.Equal(t, int64(SectorSize), bitmapSize(SectorSize))
	assert.Equal(t, int64(2*SectorSize), bitmapSize(4*DefaultBlockSize))
}

func TestBitmapBits(t *testing.T) {

	bitmap := make([]byte, SectorSize)

	setBitmapBit(bitmap, 0)
	setBitmapBit(bitmap, 7)
	setBitmapBit(bitmap, 10)

	// Bits pack most-significant first.
	assert.Equal(t, byte(0x81), bitmap[0])
	assert.Equal(t, byte(0x20), bitmap[1])

	assert.True(t, bitmapBit(bitmap, 0))
	assert.False(t, bitmapBit(bitmap, 1))
	assert.True(t, bitmapBit(bitmap, 7))
	assert.True(t, bitmapBit(bitmap, 10))
	assert.False(t, bitmapBit(bitmap, 11))
}

func TestDiskTypeString(t *testing.T) {
	assert.Equal(t, "fixed", FixedDisk.String())
	assert.Equal(t, "dynamic", DynamicDisk.String())
	assert.Equal(t, "differencing", DifferencingDisk.String())
	assert.Equal(t, "unknown", DiskType(9).String())
}
