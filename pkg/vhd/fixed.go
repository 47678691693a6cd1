package vhd

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"

	"github.com/pkg/errors"
)

// Sizer reports the true and final RAW size of an image before the first
// byte of it is written.
type Sizer interface {
	Size() int64
}

// HolePredictor is a Sizer that can also report, ahead of time, whether a
// region of the RAW image contains only zeroes. Sparse writers use it to
// avoid allocating blocks for empty regions.
type HolePredictor interface {
	Size() int64
	RegionIsHole(begin, size int64) bool
}

// FixedWriter wraps an io.WriteSeeker; copying a RAW image into it and
// closing it produces a fixed VHD, which is just the raw data followed by
// one footer.
type FixedWriter struct {
	w      io.WriteSeeker
	cursor int64
	length int64
}

// NewFixedWriter returns a FixedWriter for a RAW image of the size reported
// by h.
func NewFixedWriter(w io.WriteSeeker, h Sizer) (*FixedWriter, error) {
	return &FixedWriter{
		w:      w,
		length: h.Size(),
	}, nil
}

// Write implements io.Writer.
func (w *FixedWriter) Write(p []byte) (n int, err error) {
	n, err = w.w.Write(p)
	w.cursor += int64(n)
	return
}

// Seek implements io.Seeker.
func (w *FixedWriter) Seek(offset int64, whence int) (int64, error) {
	k, err := w.w.Seek(offset, whence)
	w.cursor = k
	return k, err
}

// Close implements io.Closer, appending the footer. The footer goes at the
// image's full length rather than wherever the last write ended, so a
// trailing region the producer seeked over still ends up inside the image.
func (w *FixedWriter) Close() error {

	if w.cursor < w.length {
		return errors.New("vhd fixed image writer expected more raw image data than was received")
	}

	_, err := w.w.Seek(w.length, io.SeekStart)
	if err != nil {
		return err
	}

	footer, err := NewFixedFooter(w.length)
	if err != nil {
		return err
	}

	_, err = w.w.Write(footer)
	return err
}
