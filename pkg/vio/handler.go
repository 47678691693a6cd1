package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"io"
	"os"
)

// File is the slice of file behaviour the disk-format packages rely on.
// *os.File satisfies it, but so can anything backed by object storage or
// a test double.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer

	Name() string
}

// Handler opens files by path. It is the injection point for callers that
// keep disk images somewhere other than the local filesystem. The flag
// argument takes the os.O_* values.
type Handler interface {
	Open(path string, flag int) (File, error)
}

type osHandler struct{}

func (osHandler) Open(path string, flag int) (File, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OS is the default Handler, backed by the local filesystem.
var OS Handler = osHandler{}

// FileSize returns the current length of f.
func FileSize(f File) (int64, error) {
	return f.Seek(0, io.SeekEnd)
}
