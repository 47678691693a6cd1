package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *Header {
	return &Header{
		MagicNumber:        Magic,
		Version:            1,
		Flags:              3,
		Capacity:           256, // sectors: two grains
		GrainSize:          128, // sectors
		NumGTEsPerGT:       512,
		GDOffset:           1,
		OverHead:           6,
		SingleEndLineChar:  '\n',
		NonEndLineChar:     ' ',
		DoubleEndLineChar1: '\r',
		DoubleEndLineChar2: '\n',
	}
}

func marshalHeader(t *testing.T, hdr *Header) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, hdr))
	require.Len(t, buf.Bytes(), SectorSize)
	return buf.Bytes()
}

// buildSparseImage lays out a two-grain monolithic sparse extent with only
// the first grain allocated: header, grain directory at sector 1, one grain
// table at sectors 2-5, grain data from sector 6.
func buildSparseImage(t *testing.T, grain []byte) []byte {
	t.Helper()

	hdr := testHeader()
	require.Len(t, grain, int(hdr.GrainSize)*SectorSize)

	img := make([]byte, 6*SectorSize+len(grain))
	copy(img, marshalHeader(t, hdr))

	// Directory: one table, at sector 2.
	binary.LittleEndian.PutUint32(img[1*SectorSize:], 2)

	// Table: grain 0 at sector 6, grain 1 unallocated.
	binary.LittleEndian.PutUint32(img[2*SectorSize:], 6)

	copy(img[6*SectorSize:], grain)
	return img
}

func TestSparseReader(t *testing.T) {

	grain := bytes.Repeat([]byte{0xD4}, 128*SectorSize)
	img := buildSparseImage(t, grain)

	r, err := NewSparseReader(bytes.NewReader(img))
	require.NoError(t, err)

	assert.Equal(t, int64(256*SectorSize), r.Capacity())

	g, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.Offset)
	assert.Equal(t, grain, g.Data)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)

	// EOF repeats.
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSparseReaderSkipsLeadingZeroGrains(t *testing.T) {

	grain := bytes.Repeat([]byte{0x09}, 128*SectorSize)
	img := buildSparseImage(t, grain)

	// Move the allocation from grain 0 to grain 1.
	binary.LittleEndian.PutUint32(img[2*SectorSize:], 0)
	binary.LittleEndian.PutUint32(img[2*SectorSize+4:], 6)

	r, err := NewSparseReader(bytes.NewReader(img))
	require.NoError(t, err)

	g, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(128*SectorSize), g.Offset)
	assert.Equal(t, grain, g.Data)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSparseReaderRejectsBadMagic(t *testing.T) {

	hdr := testHeader()
	hdr.MagicNumber = 0xDEADBEEF

	_, err := NewSparseReader(bytes.NewReader(marshalHeader(t, hdr)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestSparseReaderRejectsCorruptSentinels(t *testing.T) {

	hdr := testHeader()
	hdr.SingleEndLineChar = 'x'

	_, err := NewSparseReader(bytes.NewReader(marshalHeader(t, hdr)))
	require.Error(t, err)
}

func TestSparseReaderRejectsStreamOptimized(t *testing.T) {

	hdr := testHeader()
	hdr.Flags |= flagDataHasMarkers | flagDataCompressed
	hdr.CompressAlgorithm = compressionDeflate

	_, err := NewSparseReader(bytes.NewReader(marshalHeader(t, hdr)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream-optimized")
}
