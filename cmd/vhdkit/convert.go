package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdkit/pkg/vconvert"
	"github.com/vorteil/vhdkit/pkg/vmdk"
)

var flagStreamOptimized bool

var convertCmd = &cobra.Command{
	Use:   "convert SRC DEST",
	Short: "Convert a VMDK image into a fixed VHD",
	Long: `Convert the VMDK image at SRC into a fixed VHD at DEST. The
conversion is streamed: gaps between allocated grains are zero-filled on
the fly and nothing close to the full disk is ever held in memory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {

		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		var grains vmdk.GrainReader
		if flagStreamOptimized {
			grains, err = vmdk.NewStreamOptimizedReader(src)
		} else {
			grains, err = vmdk.NewSparseReader(src)
		}
		if err != nil {
			return err
		}

		dst, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer dst.Close()

		n, err := vconvert.Convert(dst, grains, log)
		if err != nil {
			return err
		}

		err = dst.Close()
		if err != nil {
			return err
		}

		fmt.Printf("wrote %s to %s\n", bytefmt.ByteSize(uint64(n)), args[1])
		return nil
	},
}

func init() {
	convertCmd.Flags().BoolVar(&flagStreamOptimized, "stream-optimized", false, "source is a stream-optimized extent")
}
