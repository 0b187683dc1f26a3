// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.Println(Version)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
