// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/admin"
	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/ipc"
)

type reloadConfig struct {
	clientFlags
	cluster bool
}

func newReloadCmd() *cobra.Command {
	cfg := &reloadConfig{}

	cmd := &cobra.Command{
		Use:   "reload <module>",
		Short: "Reload a module on a running instance",
		Long: `Reload a module from disk. The admin API of the configured instance is
used by default; --cluster reloads it on every replica. With --ipc the
request goes straight over the IPC channel instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runReload(cmd.Context(), cmd, conf, cfg, args[0], defaultTransport)
		},
	}

	cfg.bind(cmd)
	cmd.Flags().BoolVar(&cfg.cluster, "cluster", false, "reload on every replica")

	return cmd
}

func runReload(ctx context.Context, cmd *cobra.Command, conf *config.Config, cfg *reloadConfig, name string,
	open func(context.Context, *config.Config) (ipc.Transport, error),
) error {
	if cfg.viaIPC {
		coord, closeFn, err := ipcCoordinator(ctx, conf, open)
		if err != nil {
			return err
		}
		defer closeFn()

		if cfg.cluster {
			if err := coord.ReloadEverywhere(ctx, name); err != nil {
				return err
			}
			cmd.Printf("reload of %s broadcast to every replica\n", name)
			return nil
		}
		res, err := coord.ReloadVia(ctx, name, conf.IPC.RequestTimeout)
		if err != nil {
			return err
		}
		if !res.Reloaded {
			return oops.In("cli").With("module", name).With("instance", res.Instance).
				Errorf("module %s failed to reload on %s", name, res.Instance)
		}
		cmd.Printf("reloaded %s on %s\n", name, res.Instance)
		return nil
	}

	client, err := adminClient(conf, cfg.user)
	if err != nil {
		return err
	}
	res, err := client.Reload(ctx, name, cfg.cluster)
	if err != nil {
		return err
	}
	if res.Scope == admin.ScopeCluster {
		cmd.Printf("reload of %s broadcast to every replica\n", name)
		return nil
	}
	cmd.Printf("reloaded %s\n", name)
	return nil
}
