package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/vhdkit/pkg/elog"
	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vmdk"
)

// stubGrains is a scripted GrainReader.
type stubGrains struct {
	capacity int64
	grains   []*vmdk.Grain
	next     int
}

func (s *stubGrains) Capacity() int64 {
	return s.capacity
}

func (s *stubGrains) Next() (*vmdk.Grain, error) {
	if s.next >= len(s.grains) {
		return nil, io.EOF
	}
	g := s.grains[s.next]
	s.next++
	return g, nil
}

func TestStreamInterleavesZeroFill(t *testing.T) {

	src := &stubGrains{
		capacity: 8,
		grains: []*vmdk.Grain{
			{Offset: 0, Data: []byte("AA")},
			{Offset: 4, Data: []byte("BB")},
		},
	}

	out, err := ioutil.ReadAll(NewStream(src))
	require.NoError(t, err)
	require.Len(t, out, 8+vhd.FooterSize)

	assert.Equal(t, []byte("AA\x00\x00BB\x00\x00"), out[:8])

	footer, err := vhd.ParseFooter(out[8:])
	require.NoError(t, err)
	assert.Equal(t, uint32(vhd.FixedDisk), footer.DiskType)
	assert.Equal(t, uint64(8), footer.CurrentSize)
}

func TestStreamEmptySource(t *testing.T) {

	src := &stubGrains{capacity: 2 * vhd.SectorSize}

	out, err := ioutil.ReadAll(NewStream(src))
	require.NoError(t, err)
	require.Len(t, out, 2*vhd.SectorSize+vhd.FooterSize)

	assert.Equal(t, make([]byte, 2*vhd.SectorSize), out[:2*vhd.SectorSize])

	_, err = vhd.ParseFooter(out[2*vhd.SectorSize:])
	require.NoError(t, err)
}

func TestStreamLargeGap(t *testing.T) {

	// The gap spans several zero-fill chunks.
	capacity := int64(3*zeroChunkSize + vhd.SectorSize)
	tail := bytes.Repeat([]byte{0x7E}, vhd.SectorSize)

	src := &stubGrains{
		capacity: capacity,
		grains: []*vmdk.Grain{
			{Offset: capacity - vhd.SectorSize, Data: tail},
		},
	}

	out, err := ioutil.ReadAll(NewStream(src))
	require.NoError(t, err)
	require.Len(t, out, int(capacity)+vhd.FooterSize)

	assert.Equal(t, make([]byte, zeroChunkSize), out[:zeroChunkSize])
	assert.Equal(t, tail, out[capacity-vhd.SectorSize:capacity])
}

func TestStreamZeroFillChunking(t *testing.T) {

	s := new(Stream)
	s.enqueueZeroFill(2*zeroChunkSize + 100)

	require.Len(t, s.queue, 3)
	assert.Equal(t, int64(zeroChunkSize), s.queue[0].length)
	assert.Equal(t, int64(zeroChunkSize), s.queue[1].length)
	assert.Equal(t, int64(100), s.queue[2].length)
}

func TestStreamRejectsOutOfOrderGrains(t *testing.T) {

	src := &stubGrains{
		capacity: 4 * vhd.SectorSize,
		grains: []*vmdk.Grain{
			{Offset: 2 * vhd.SectorSize, Data: make([]byte, vhd.SectorSize)},
			{Offset: 0, Data: make([]byte, vhd.SectorSize)},
		},
	}

	stream := NewStream(src)
	_, err := ioutil.ReadAll(stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")

	// The error is sticky.
	_, err2 := stream.Read(make([]byte, 10))
	assert.Equal(t, err, err2)
}

func TestStreamRejectsOverCapacityGrain(t *testing.T) {

	src := &stubGrains{
		capacity: vhd.SectorSize,
		grains: []*vmdk.Grain{
			{Offset: 0, Data: make([]byte, 2*vhd.SectorSize)},
		},
	}

	_, err := ioutil.ReadAll(NewStream(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
}

func TestStreamSmallReads(t *testing.T) {

	src := &stubGrains{
		capacity: 8,
		grains: []*vmdk.Grain{
			{Offset: 0, Data: []byte("AA")},
			{Offset: 4, Data: []byte("BB")},
		},
	}

	stream := NewStream(src)
	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := stream.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.Len(t, out, 8+vhd.FooterSize)
	assert.Equal(t, []byte("AA\x00\x00BB\x00\x00"), out[:8])
}

func TestConvert(t *testing.T) {

	data := bytes.Repeat([]byte{0x42}, vhd.SectorSize)
	src := &stubGrains{
		capacity: 4 * vhd.SectorSize,
		grains: []*vmdk.Grain{
			{Offset: vhd.SectorSize, Data: data},
		},
	}

	buf := new(bytes.Buffer)
	n, err := Convert(buf, src, elog.Discard())
	require.NoError(t, err)
	assert.Equal(t, int64(4*vhd.SectorSize+vhd.FooterSize), n)

	out := buf.Bytes()
	assert.Equal(t, make([]byte, vhd.SectorSize), out[:vhd.SectorSize])
	assert.Equal(t, data, out[vhd.SectorSize:2*vhd.SectorSize])

	footer, err := vhd.ParseFooter(out[4*vhd.SectorSize:])
	require.NoError(t, err)
	assert.Equal(t, uint64(4*vhd.SectorSize), footer.CurrentSize)
}
