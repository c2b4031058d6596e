// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "install <dir>",
		Short: "Install a fetched module directory into a running instance",
		Long: `Copy a module directory into the module root of a running instance and
load it. The directory must be readable by the server. If the module fails
to load, the copy is removed again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return oops.In("cli").With("dir", args[0]).Wrap(err)
			}
			client, err := adminClient(conf, flags.user)
			if err != nil {
				return err
			}
			info, err := client.Install(cmd.Context(), dir)
			if err != nil {
				return err
			}
			cmd.Printf("installed %s (%s) from %s\n", info.Name, info.Kind, dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.user, "user", "", "admin user id to act as (default: first admin.user_ids entry)")

	return cmd
}

func newUninstallCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "uninstall <module>",
		Short: "Unload a module and remove its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := adminClient(conf, flags.user)
			if err != nil {
				return err
			}
			removed, err := client.Uninstall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return oops.In("cli").With("module", args[0]).Errorf("module %s is not installed", args[0])
			}
			cmd.Printf("uninstalled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.user, "user", "", "admin user id to act as (default: first admin.user_ids entry)")

	return cmd
}
