package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"

	"github.com/pkg/errors"

	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vmdk"
)

// zeroChunkSize bounds how much data any single queued chunk represents,
// so a multi-gigabyte gap between grains never turns into one allocation.
const zeroChunkSize = 0x100000

type chunkKind int

const (
	chunkLiteral chunkKind = iota
	chunkZeroFill
	chunkFooter
	chunkDone
)

// chunk is one queued piece of pending output. Zero-fill chunks carry only
// a length; their bytes are materialized straight into the caller's buffer
// at read time.
type chunk struct {
	kind   chunkKind
	length int64
	data   []byte
}

// Stream converts an ordered grain stream into a fixed-type VHD byte
// stream of the source's capacity. It is an io.Reader: the caller's read
// cadence is the backpressure, and nothing is buffered beyond the grain
// currently in flight. Grains must arrive in strictly ascending offset
// order; a violation is surfaced as a sticky read error.
type Stream struct {
	src      vmdk.GrainReader
	capacity int64

	cursor int64 // bytes of disk content emitted so far
	queue  []chunk
	offset int64 // bytes consumed of the chunk at the head of the queue
	err    error
}

// NewStream returns a Stream over src.
func NewStream(src vmdk.GrainReader) *Stream {
	return &Stream{
		src:      src,
		capacity: src.Capacity(),
	}
}

// enqueueZeroFill queues a gap of n zero bytes, split into bounded chunks.
func (s *Stream) enqueueZeroFill(n int64) {
	for n > zeroChunkSize {
		s.queue = append(s.queue, chunk{kind: chunkZeroFill, length: zeroChunkSize})
		n -= zeroChunkSize
	}
	if n > 0 {
		s.queue = append(s.queue, chunk{kind: chunkZeroFill, length: n})
	}
}

// pull fetches the next grain from the source and queues the output it
// implies. At end of input it queues the final zero-fill, the footer, and
// the terminal sentinel.
func (s *Stream) pull() error {

	g, err := s.src.Next()
	if err == io.EOF {

		s.enqueueZeroFill(s.capacity - s.cursor)
		s.cursor = s.capacity

		footer, err := vhd.NewFixedFooter(s.capacity)
		if err != nil {
			return err
		}

		s.queue = append(s.queue,
			chunk{kind: chunkFooter, length: int64(len(footer)), data: footer},
			chunk{kind: chunkDone})
		return nil
	}
	if err != nil {
		return err
	}

	if g.Offset < s.cursor {
		return errors.Errorf("grain stream out of order: grain at offset %d behind cursor %d", g.Offset, s.cursor)
	}

	if g.Offset+int64(len(g.Data)) > s.capacity {
		return errors.Errorf("grain at offset %d overruns the declared capacity %d", g.Offset, s.capacity)
	}

	s.enqueueZeroFill(g.Offset - s.cursor)
	s.queue = append(s.queue, chunk{kind: chunkLiteral, length: int64(len(g.Data)), data: g.Data})
	s.cursor = g.Offset + int64(len(g.Data))

	return nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {

	if s.err != nil {
		return 0, s.err
	}

	var n int
	for n < len(p) {

		if len(s.queue) == 0 {
			err := s.pull()
			if err != nil {
				s.err = err
				if n > 0 {
					return n, nil
				}
				return 0, s.err
			}
			continue
		}

		head := &s.queue[0]

		if head.kind == chunkDone {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}

		k := head.length - s.offset
		if k > int64(len(p)-n) {
			k = int64(len(p) - n)
		}

		out := p[n : n+int(k)]
		switch head.kind {
		case chunkZeroFill:
			for i := range out {
				out[i] = 0
			}
		default:
			copy(out, head.data[s.offset:])
		}

		n += int(k)
		s.offset += k

		if s.offset == head.length {
			s.queue = s.queue[1:]
			s.offset = 0
		}
	}

	return n, nil
}
