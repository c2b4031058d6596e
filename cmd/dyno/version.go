// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/host"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("dyno %s\n", version)
			cmd.Printf("  commit:   %s\n", commit)
			cmd.Printf("  built:    %s\n", date)
			cmd.Printf("  host api: %s\n", host.APIVersion)
		},
	}
}
