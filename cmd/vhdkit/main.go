package main

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vorteil/vhdkit/pkg/elog"
)

var (
	flagDebug  bool
	flagConfig string

	log elog.View
)

var rootCmd = &cobra.Command{
	Use:   "vhdkit",
	Short: "Manipulate VHD virtual disk images",
	Long: `Manipulate VHD virtual disk images: merge differencing disks into
their parents, convert VMDK images into VHDs, and build new VHDs from raw
images.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig(flagConfig)
		log = elog.NewCLI()
		if flagDebug || viper.GetBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

// initConfig loads optional defaults (block size, debug) from a config
// file, if one exists.
func initConfig(path string) {

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".vhdkit")
	}

	viper.SetDefault("block-size", "2M")
	_ = viper.ReadInConfig()
}

func init() {
	// Config keys use dashes; accept underscores on the command line too.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a config file")

	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
