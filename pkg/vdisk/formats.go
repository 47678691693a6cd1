package vdisk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vio"
)

// Format identifies an output disk image format.
type Format string

// Supported output formats.
const (
	RAWFormat        Format = "raw"
	VHDFormat        Format = "vhd"
	VHDFixedFormat   Format = "vhd-fixed"
	VHDDynamicFormat Format = "vhd-dynamic"
)

// AllFormatStrings lists the accepted format names.
func AllFormatStrings() []string {
	strs := make([]string, len(formats))
	i := 0
	for k := range formats {
		strs[i] = k.String()
		i++
	}
	sort.Strings(strs)
	return strs
}

// Writer is the surface the build loop needs from a format writer: data
// writes, forward seeks over holes, and a Close that finalizes the image.
type Writer interface {
	io.Writer
	io.Seeker
	io.Closer
}

type writerFunc func(w io.WriteSeeker, h vhd.HolePredictor) (Writer, error)

var (
	formats = map[Format]string{
		RAWFormat:        ".raw",
		VHDFormat:        ".vhd",
		VHDFixedFormat:   ".vhd",
		VHDDynamicFormat: ".vhd",
	}

	alignments = map[Format]int64{
		RAWFormat:        0x200000,
		VHDFormat:        0x200000,
		VHDFixedFormat:   0x200000,
		VHDDynamicFormat: 0x200000,
	}

	writerFuncs = map[Format]writerFunc{
		RAWFormat:        newRAWWriter,
		VHDFormat:        newFixedVHDWriter,
		VHDFixedFormat:   newFixedVHDWriter,
		VHDDynamicFormat: newDynamicVHDWriter,
	}
)

func (x Format) String() string {
	return string(x)
}

// MarshalText implements encoding.TextMarshaler.
func (x Format) MarshalText() (text []byte, err error) {
	return []byte(x.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (x *Format) UnmarshalText(text []byte) error {
	var err error
	*x, err = ParseFormat(string(text))
	if err != nil {
		return err
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (x Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Format) UnmarshalJSON(data []byte) error {
	s := string(data)
	s = strings.Trim(s, "\"")
	var err error
	*x, err = ParseFormat(s)
	if err != nil {
		return err
	}
	return nil
}

// ParseFormat resolves a string into a Format.
func ParseFormat(s string) (Format, error) {

	if s == "" {
		return RAWFormat, nil
	}

	original := s

	s = strings.TrimSpace(s)
	s = strings.ToLower(s)

	f := Format(s)
	if _, ok := formats[f]; !ok {
		return RAWFormat, fmt.Errorf("unrecognized virtual disk format '%s'", original)
	}
	return f, nil
}

// Suffix returns the conventional file extension for the format.
func (x Format) Suffix() string {
	return formats[x]
}

// Alignment returns the size alignment the format's writer requires.
func (x Format) Alignment() int64 {
	return alignments[x]
}

type nopWriteCloser struct {
	io.WriteSeeker
}

func (nopWriteCloser) Close() error {
	return nil
}

func newRAWWriter(w io.WriteSeeker, h vhd.HolePredictor) (Writer, error) {
	ws, err := vio.WriteSeeker(w)
	if err != nil {
		return nil, err
	}
	return nopWriteCloser{ws}, nil
}

func newFixedVHDWriter(w io.WriteSeeker, h vhd.HolePredictor) (Writer, error) {
	return vhd.NewFixedWriter(w, h)
}

func newDynamicVHDWriter(w io.WriteSeeker, h vhd.HolePredictor) (Writer, error) {
	return vhd.NewDynamicWriter(w, h)
}
