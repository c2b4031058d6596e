// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/config"
)

// NewRootCmd creates the root command for the dyno CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dyno",
		Short: "dyno - a chat bot with hot-swappable modules",
		Long: `dyno runs a chat bot whose commands live in modules that can be
loaded, reloaded and rolled back at runtime, across every replica.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/dyno/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newModulesCmd())
	cmd.AddCommand(newInstallCmd())
	cmd.AddCommand(newUninstallCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads the configuration for cmd, honoring --config and any
// explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(config.LoadOptions{Path: path, Flags: cmd.Flags()})
}
