package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vio"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect IMAGE",
	Short: "Print the structure of a VHD image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {

		f, err := vio.OS.Open(args[0], os.O_RDONLY)
		if err != nil {
			return err
		}
		defer f.Close()

		disk := vhd.NewDisk(f)
		err = disk.ReadHeaderAndFooter()
		if err != nil {
			return err
		}

		footer := disk.Footer()
		id, _ := uuid.FromBytes(footer.UniqueID[:])

		fmt.Printf("type:         %s\n", vhd.DiskType(footer.DiskType))
		fmt.Printf("current size: %s\n", bytefmt.ByteSize(footer.CurrentSize))
		fmt.Printf("uuid:         %s\n", id)

		header := disk.Header()
		if header == nil {
			return nil
		}

		err = disk.ReadBlockAllocationTable()
		if err != nil {
			return err
		}

		var allocated int
		for idx := range disk.BAT() {
			if disk.ContainsBlock(idx) {
				allocated++
			}
		}

		fmt.Printf("block size:   %s\n", bytefmt.ByteSize(uint64(header.BlockSize)))
		fmt.Printf("blocks:       %d / %d allocated\n", allocated, header.MaxTableEntries)
		return nil
	},
}
