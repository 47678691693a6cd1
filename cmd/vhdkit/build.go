package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdkit/pkg/vdisk"
)

var flagFormat = vdisk.VHDDynamicFormat

// formatValue adapts vdisk.Format to the flag interface so bad values are
// rejected at parse time.
type formatValue struct {
	f *vdisk.Format
}

func (v formatValue) String() string {
	if v.f == nil {
		return ""
	}
	return v.f.String()
}

func (v formatValue) Set(s string) error {
	f, err := vdisk.ParseFormat(s)
	if err != nil {
		return err
	}
	*v.f = f
	return nil
}

func (v formatValue) Type() string {
	return "format"
}

var buildCmd = &cobra.Command{
	Use:   "build SRC DEST",
	Short: "Build a disk image from a raw image",
	Long: `Build a disk image at DEST from the raw image at SRC. The source
size must be aligned to the output format's block size; dynamic output
skips blocks that contain only zeroes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {

		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		size, err := src.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}

		dst, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer dst.Close()

		err = vdisk.Build(context.Background(), dst, &vdisk.BuildArgs{
			Source: src,
			Size:   size,
			Format: flagFormat,
			Logger: log,
		})
		if err != nil {
			return errors.Wrapf(err, "building %s image", flagFormat)
		}

		return dst.Close()
	},
}

func init() {
	buildCmd.Flags().Var(formatValue{&flagFormat}, "format", "output format, one of: "+strings.Join(vdisk.AllFormatStrings(), ", "))
}
