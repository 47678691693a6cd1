package vio

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroes(t *testing.T) {

	buf := bytes.Repeat([]byte{0xFF}, 1000)
	n, err := Zeroes.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.Equal(t, make([]byte, 1000), buf)

	n, err = Zeroes.Read(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteSeekerStream(t *testing.T) {

	// bytes.Buffer cannot seek, so the adapter fakes forward seeks with
	// zeroes and refuses to go backwards.
	buf := new(bytes.Buffer)
	ws, err := WriteSeeker(buf)
	require.NoError(t, err)

	_, err = ws.Write([]byte("abc"))
	require.NoError(t, err)

	k, err := ws.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), k)

	k, err = ws.Seek(7, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(7), k)

	_, err = ws.Write([]byte("z"))
	require.NoError(t, err)

	assert.Equal(t, []byte("abc\x00\x00\x00\x00z"), buf.Bytes())

	_, err = ws.Seek(0, io.SeekStart)
	assert.Error(t, err)

	_, err = ws.Seek(0, io.SeekEnd)
	assert.Error(t, err)
}

func TestWriteSeekerSeekable(t *testing.T) {

	dir, err := ioutil.TempDir("", "vio")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	f, err := os.Create(filepath.Join(dir, "out"))
	require.NoError(t, err)
	defer f.Close()

	// The adapter treats the current position as its origin.
	_, err = f.Write([]byte("prefix"))
	require.NoError(t, err)

	ws, err := WriteSeeker(f)
	require.NoError(t, err)

	_, err = ws.Write([]byte("abcdef"))
	require.NoError(t, err)

	k, err := ws.Seek(1, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), k)

	_, err = ws.Write([]byte("X"))
	require.NoError(t, err)

	// Relative seeks report positions against the adapter's origin, not
	// the start of the underlying file.
	k, err = ws.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(4), k)

	_, err = ws.Seek(0, io.SeekEnd)
	assert.Error(t, err)

	require.NoError(t, f.Sync())
	out, err := ioutil.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, []byte("prefixaXcdef"), out)
}

func TestFileSize(t *testing.T) {

	dir, err := ioutil.TempDir("", "vio")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "f")
	require.NoError(t, ioutil.WriteFile(path, make([]byte, 1234), 0644))

	f, err := OS.Open(path, os.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	size, err := FileSize(f)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)
}
