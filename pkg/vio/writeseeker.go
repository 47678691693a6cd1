package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"io"
)

type zeroesReader struct{}

func (zeroesReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// Zeroes is an endless reader of zero bytes.
var Zeroes io.Reader = zeroesReader{}

// writeSeeker adapts any io.Writer into an io.WriteSeeker. All offsets are
// relative to the position the wrapped writer held when it was adapted.
type writeSeeker struct {
	w      io.Writer
	s      io.Seeker // nil when w cannot seek
	origin int64     // wrapped writer's position at adaptation time
	off    int64     // stream mode: bytes emitted so far
}

func (ws *writeSeeker) Write(p []byte) (n int, err error) {
	n, err = ws.w.Write(p)
	if ws.s == nil {
		ws.off += int64(n)
	}
	return
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {

	if whence == io.SeekEnd {
		return 0, errors.New("adapted writers have no known end to seek from")
	}
	if whence != io.SeekStart && whence != io.SeekCurrent {
		return 0, errors.New("invalid whence")
	}

	if ws.s != nil {
		if whence == io.SeekStart {
			offset += ws.origin
		}
		n, err := ws.s.Seek(offset, whence)
		return n - ws.origin, err
	}

	// A plain stream: forward seeks are faked by emitting zeroes and
	// backward seeks are impossible.
	gap := offset
	if whence == io.SeekStart {
		gap = offset - ws.off
	}
	if gap < 0 {
		return ws.off, errors.New("streamed output cannot seek backwards")
	}

	n, err := io.CopyN(ws.w, Zeroes, gap)
	ws.off += n
	return ws.off, err
}

// WriteSeeker adapts w into an io.WriteSeeker. If w cannot actually seek,
// forward seeks are faked by writing zeroes and backward seeks fail, which
// is enough for stream writers that only ever skip ahead.
func WriteSeeker(w io.Writer) (io.WriteSeeker, error) {

	ws := &writeSeeker{w: w}

	if s, ok := w.(io.Seeker); ok {
		k, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		ws.s = s
		ws.origin = k
	}

	return ws, nil
}
