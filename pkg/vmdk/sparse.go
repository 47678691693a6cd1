package vmdk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// SparseReader reads a monolithic sparse extent, yielding its allocated
// grains in ascending offset order by walking the grain directory.
type SparseReader struct {
	r   io.ReadSeeker
	hdr *Header

	grainBytes int64
	grains     []uint32 // sector offset per grain, 0 = unallocated
	next       int
}

// NewSparseReader parses the header and grain tables of a monolithic
// sparse extent.
func NewSparseReader(r io.ReadSeeker) (*SparseReader, error) {

	hdr := new(Header)
	err := binary.Read(r, binary.LittleEndian, hdr)
	if err != nil {
		return nil, errors.Wrap(err, "reading vmdk header")
	}

	err = hdr.validate()
	if err != nil {
		return nil, err
	}

	if hdr.Flags&flagDataHasMarkers != 0 || hdr.CompressAlgorithm != 0 {
		return nil, errors.New("extent is stream-optimized; use NewStreamOptimizedReader")
	}

	s := &SparseReader{
		r:          r,
		hdr:        hdr,
		grainBytes: int64(hdr.GrainSize) * SectorSize,
	}

	err = s.readGrainTables()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// readGrainTables flattens the grain directory and its tables into one
// sector-offset entry per grain.
func (s *SparseReader) readGrainTables() error {

	totalGrains := (int64(s.hdr.Capacity) + int64(s.hdr.GrainSize) - 1) / int64(s.hdr.GrainSize)
	perTable := int64(s.hdr.NumGTEsPerGT)
	totalTables := (totalGrains + perTable - 1) / perTable

	_, err := s.r.Seek(int64(s.hdr.GDOffset)*SectorSize, io.SeekStart)
	if err != nil {
		return err
	}

	directory := make([]uint32, totalTables)
	err = binary.Read(s.r, binary.LittleEndian, directory)
	if err != nil {
		return errors.Wrap(err, "reading grain directory")
	}

	s.grains = make([]uint32, totalGrains)
	table := make([]uint32, perTable)
	for i, tableSector := range directory {

		if tableSector == 0 {
			continue
		}

		_, err = s.r.Seek(int64(tableSector)*SectorSize, io.SeekStart)
		if err != nil {
			return err
		}

		err = binary.Read(s.r, binary.LittleEndian, table)
		if err != nil {
			return errors.Wrapf(err, "reading grain table %d", i)
		}

		base := int64(i) * perTable
		for j, gte := range table {
			if base+int64(j) >= totalGrains {
				break
			}
			s.grains[base+int64(j)] = gte
		}
	}

	return nil
}

// Capacity implements GrainReader.
func (s *SparseReader) Capacity() int64 {
	return int64(s.hdr.Capacity) * SectorSize
}

// Next implements GrainReader.
func (s *SparseReader) Next() (*Grain, error) {

	for s.next < len(s.grains) && s.grains[s.next] == 0 {
		s.next++
	}

	if s.next >= len(s.grains) {
		return nil, io.EOF
	}

	idx := s.next
	s.next++

	_, err := s.r.Seek(int64(s.grains[idx])*SectorSize, io.SeekStart)
	if err != nil {
		return nil, err
	}

	data := make([]byte, s.grainBytes)
	_, err = io.ReadFull(s.r, data)
	if err != nil {
		return nil, errors.Wrapf(err, "reading grain %d", idx)
	}

	return &Grain{
		Offset: int64(idx) * s.grainBytes,
		Data:   data,
	}, nil
}
