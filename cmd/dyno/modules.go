// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/module"
)

type modulesConfig struct {
	clientFlags
	jsonOutput bool
}

func newModulesCmd() *cobra.Command {
	cfg := &modulesConfig{}

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the modules active on a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runModules(cmd.Context(), cmd, conf, cfg, defaultTransport)
		},
	}

	cfg.bind(cmd)
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runModules(ctx context.Context, cmd *cobra.Command, conf *config.Config, cfg *modulesConfig,
	open func(context.Context, *config.Config) (ipc.Transport, error),
) error {
	var infos []module.Info
	if cfg.viaIPC {
		coord, closeFn, err := ipcCoordinator(ctx, conf, open)
		if err != nil {
			return err
		}
		defer closeFn()
		res, err := coord.ListVia(ctx, conf.IPC.RequestTimeout)
		if err != nil {
			return err
		}
		infos = res.Modules
	} else {
		client, err := adminClient(conf, cfg.user)
		if err != nil {
			return err
		}
		res, err := client.List(ctx)
		if err != nil {
			return err
		}
		infos = res.Modules
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return oops.In("cli").Wrapf(err, "format JSON")
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(formatModulesTable(infos))
	return nil
}

// formatModulesTable renders infos as an aligned table.
func formatModulesTable(infos []module.Info) string {
	if len(infos) == 0 {
		return "no modules loaded\n"
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tVERSION\tLOADED\tLOCATOR")
	for _, info := range infos {
		ver := info.Version
		if ver == "" {
			ver = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.Name, info.Kind, ver, info.LoadedAt.Format(time.RFC3339), info.Locator)
	}
	_ = w.Flush()
	return sb.String()
}
