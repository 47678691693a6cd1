package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// StreamOptimizedReader reads a stream-optimized extent sequentially,
// decompressing each grain as it is encountered. The format guarantees
// grains appear in ascending LBA order, so no seeking is required and the
// source only needs to be an io.Reader.
type StreamOptimizedReader struct {
	r   io.Reader
	hdr *Header

	grainBytes int64
	pos        int64 // current byte offset within the stream
	done       bool
}

// NewStreamOptimizedReader parses the header of a stream-optimized extent
// and positions the stream at the first marker.
func NewStreamOptimizedReader(r io.Reader) (*StreamOptimizedReader, error) {

	hdr := new(Header)
	err := binary.Read(r, binary.LittleEndian, hdr)
	if err != nil {
		return nil, errors.Wrap(err, "reading vmdk header")
	}

	err = hdr.validate()
	if err != nil {
		return nil, err
	}

	if hdr.CompressAlgorithm != compressionDeflate {
		return nil, errors.Errorf("unsupported vmdk compression algorithm %d", hdr.CompressAlgorithm)
	}

	s := &StreamOptimizedReader{
		r:          r,
		hdr:        hdr,
		grainBytes: int64(hdr.GrainSize) * SectorSize,
		pos:        512,
	}

	// Skip the descriptor and padding; grain data begins after the
	// overhead region.
	err = s.discard(int64(hdr.OverHead)*SectorSize - s.pos)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *StreamOptimizedReader) discard(n int64) error {
	k, err := io.CopyN(ioutil.Discard, s.r, n)
	s.pos += k
	return err
}

// Capacity implements GrainReader.
func (s *StreamOptimizedReader) Capacity() int64 {
	return int64(s.hdr.Capacity) * SectorSize
}

// Next implements GrainReader. Metadata markers (grain tables, the grain
// directory, the footer) are skipped; the end-of-stream marker yields
// io.EOF.
func (s *StreamOptimizedReader) Next() (*Grain, error) {

	if s.done {
		return nil, io.EOF
	}

	sector := make([]byte, SectorSize)

	for {
		_, err := io.ReadFull(s.r, sector)
		if err != nil {
			return nil, errors.Wrap(err, "reading vmdk marker")
		}
		s.pos += SectorSize

		value := binary.LittleEndian.Uint64(sector[0:8])
		dataSize := binary.LittleEndian.Uint32(sector[8:12])

		if dataSize > 0 {
			// Grain marker: value is the LBA, and the compressed
			// payload starts at byte 12 of this sector.
			return s.readGrain(sector, int64(value), int64(dataSize))
		}

		markerType := binary.LittleEndian.Uint32(sector[12:16])
		switch markerType {
		case markerEOS:
			s.done = true
			return nil, io.EOF
		case markerGrainTable, markerGrainDirectory, markerFooter:
			err = s.discard(int64(value) * SectorSize)
			if err != nil {
				return nil, errors.Wrap(err, "skipping vmdk metadata")
			}
		default:
			return nil, errors.Errorf("unknown vmdk marker type %d", markerType)
		}
	}
}

func (s *StreamOptimizedReader) readGrain(first []byte, lba, dataSize int64) (*Grain, error) {

	// The marker's 12-byte header plus the payload, padded to a sector
	// boundary; the first sector is already in hand.
	total := (12 + dataSize + SectorSize - 1) / SectorSize * SectorSize

	buf := make([]byte, total)
	copy(buf, first)
	if total > SectorSize {
		_, err := io.ReadFull(s.r, buf[SectorSize:])
		if err != nil {
			return nil, errors.Wrap(err, "reading compressed grain")
		}
		s.pos += total - SectorSize
	}

	zr, err := zlib.NewReader(bytes.NewReader(buf[12 : 12+dataSize]))
	if err != nil {
		return nil, errors.Wrap(err, "decompressing grain")
	}
	defer zr.Close()

	data := make([]byte, s.grainBytes)
	_, err = io.ReadFull(zr, data)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing grain")
	}

	return &Grain{
		Offset: lba * SectorSize,
		Data:   data,
	}, nil
}
