// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/admin"
	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/modsync"
)

// tokenTTL bounds the lifetime of tokens minted for a single CLI call.
const tokenTTL = time.Minute

// clientFlags are shared by the commands that talk to a running instance.
type clientFlags struct {
	user   string
	viaIPC bool
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "admin user id to act as (default: first admin.user_ids entry)")
	cmd.Flags().BoolVar(&f.viaIPC, "ipc", false, "talk to the replicas over IPC instead of the admin API")
}

// adminClient mints a short-lived token from the shared secret and returns a
// client for the configured admin address.
func adminClient(cfg *config.Config, user string) (*admin.Client, error) {
	errb := oops.In("cli")
	if cfg.Admin.Addr == "" {
		return nil, errb.Errorf("admin.addr is not configured")
	}
	if cfg.Admin.JWTSecret == "" {
		return nil, errb.Errorf("admin.jwt_secret is required to call the admin API")
	}
	if user == "" {
		if len(cfg.Admin.UserIDs) == 0 {
			return nil, errb.Errorf("no --user given and admin.user_ids is empty")
		}
		user = cfg.Admin.UserIDs[0]
	}
	token, err := admin.NewToken([]byte(cfg.Admin.JWTSecret), user, tokenTTL)
	if err != nil {
		return nil, errb.Wrapf(err, "mint admin token")
	}
	return admin.NewClient(cfg.Admin.Addr, token), nil
}

// ipcCoordinator joins the IPC channel as a client with no modules of its
// own. The returned function releases the connection.
func ipcCoordinator(ctx context.Context, cfg *config.Config, open func(context.Context, *config.Config) (ipc.Transport, error)) (*modsync.Coordinator, func(), error) {
	transport, err := open(ctx, cfg)
	if err != nil {
		return nil, nil, oops.In("cli").Wrapf(err, "open IPC transport")
	}
	logger := slog.New(slog.DiscardHandler)
	manager := ipc.NewManager(transport,
		ipc.WithPrefix(cfg.IPC.Prefix),
		ipc.WithTimeout(cfg.IPC.RequestTimeout),
		ipc.WithLogger(logger),
	)
	if err := manager.Start(ctx); err != nil {
		_ = manager.Close()
		return nil, nil, oops.In("cli").Wrapf(err, "start IPC manager")
	}
	closeFn := func() { _ = manager.Close() }
	return modsync.NewCoordinator(manager, nil, modsync.WithLogger(logger)), closeFn, nil
}
