package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"context"
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/vorteil/vhdkit/pkg/vhd"
	"github.com/vorteil/vhdkit/pkg/vio"
)

var mergeCmd = &cobra.Command{
	Use:   "merge PARENT CHILD",
	Short: "Flatten a differencing disk into its parent",
	Long: `Flatten the differencing disk CHILD into PARENT. Every block
allocated in the child is coalesced into the parent in place, and the
parent takes on the child's identity. The child is opened read-only and
left untouched.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {

		parent, child := args[0], args[1]

		merged, err := vhd.Merge(context.Background(), vio.OS, parent, vio.OS, child)
		if err != nil {
			return err
		}

		fmt.Printf("merged %s of block data into %s\n", bytefmt.ByteSize(uint64(merged)), parent)
		return nil
	},
}
