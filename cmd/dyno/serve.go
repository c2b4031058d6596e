// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dynohq/dyno/internal/admin"
	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/ipc/memory"
	"github.com/dynohq/dyno/internal/ipc/redis"
	"github.com/dynohq/dyno/internal/logging"
	"github.com/dynohq/dyno/internal/modsync"
	"github.com/dynohq/dyno/internal/module"
	"github.com/dynohq/dyno/internal/module/capability"
	"github.com/dynohq/dyno/internal/module/goplugin"
	modlua "github.com/dynohq/dyno/internal/module/lua"
	"github.com/dynohq/dyno/internal/observability"
	"github.com/dynohq/dyno/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

var errModulesLoading = errors.New("modules still loading")

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot runtime (modules, IPC, admin API)",
		Long: `Load every module under the module root, join the IPC channel shared
with the other replicas, and serve the admin and metrics endpoints until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// defaultTransport opens the transport named by ipc.transport.
func defaultTransport(ctx context.Context, cfg *config.Config) (ipc.Transport, error) {
	if cfg.IPC.Transport == config.TransportMemory {
		return memory.NewBus().Transport(), nil
	}
	t, err := redis.Dial(ctx, cfg.Redis.URI, redis.WithConnectTimeout(cfg.Redis.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	return t, nil
}

// runServeWithDeps runs the bot until ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.TransportFactory == nil {
		deps.TransportFactory = defaultTransport
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, observability.WithLogger(logger))
		}
	}
	if deps.AdminServerFactory == nil {
		deps.AdminServerFactory = func(cfg admin.Config, modules admin.Modules, opts ...admin.Option) AdminServer {
			return admin.NewServer(cfg, modules, opts...)
		}
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "dyno",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return oops.In("serve").Wrapf(err, "set up logging")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.InfoContext(ctx, "starting dyno",
		"modules_dir", cfg.Modules.Dir,
		"transport", cfg.IPC.Transport,
		"hot_reload", cfg.Modules.HotReload)

	var loaded atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, logger)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.In("serve").Wrapf(err, "start observability server")
		}
		defer stopServer(logger, "observability", obsServer.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
		obsServer.AddCheck("modules", func(context.Context) error {
			if !loaded.Load() {
				return errModulesLoading
			}
			return nil
		})
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
	}

	bot := host.New(host.WithLogger(logger))
	enforcer := capability.NewEnforcer()
	registry := module.NewRegistry(cfg.Modules.Dir, bot,
		module.WithEnforcer(enforcer),
		module.WithLoader(modlua.NewLoader(modlua.WithEnforcer(enforcer), modlua.WithLogger(logger))),
		module.WithLoader(goplugin.NewLoader(goplugin.WithEnforcer(enforcer), goplugin.WithLogger(logger))),
		module.WithMetrics(metrics),
		module.WithLogger(logger),
	)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer closeCancel()
		if err := registry.Close(closeCtx); err != nil {
			errutil.LogWarn(logger, "error closing module registry", err)
		}
	}()

	transport, err := deps.TransportFactory(ctx, cfg)
	if err != nil {
		return oops.In("serve").With("transport", cfg.IPC.Transport).Wrapf(err, "open IPC transport")
	}
	manager := ipc.NewManager(transport,
		ipc.WithPrefix(cfg.IPC.Prefix),
		ipc.WithTimeout(cfg.IPC.RequestTimeout),
		ipc.WithLogger(logger),
		ipc.WithMetrics(metrics),
	)
	defer func() {
		if err := manager.Close(); err != nil {
			errutil.LogWarn(logger, "error closing IPC manager", err)
		}
	}()
	if err := manager.Start(ctx); err != nil {
		return oops.In("serve").Wrapf(err, "start IPC manager")
	}
	bot.SetPublisher(manager)
	if obsServer != nil {
		obsServer.AddCheck("ipc", func(context.Context) error { return manager.Healthy() })
	}

	coordinator := modsync.NewCoordinator(manager, registry, modsync.WithLogger(logger))
	if err := coordinator.Start(ctx); err != nil {
		return oops.In("serve").Wrapf(err, "start module sync")
	}

	if err := registry.LoadAll(ctx); err != nil {
		return oops.In("serve").Wrapf(err, "load modules")
	}
	logger.InfoContext(ctx, "modules loaded", "count", len(registry.List()), "instance", coordinator.Instance())

	if cfg.Modules.HotReload {
		watcher := module.NewWatcher(cfg.Modules.Dir, registry, logger)
		if err := watcher.Start(ctx); err != nil {
			return oops.In("serve").Wrapf(err, "start module watcher")
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				errutil.LogWarn(logger, "error stopping module watcher", err)
			}
		}()
	}

	if cfg.Admin.Addr != "" {
		adminServer := deps.AdminServerFactory(admin.Config{
			Addr:        cfg.Admin.Addr,
			AdminIDs:    cfg.Admin.UserIDs,
			Secret:      []byte(cfg.Admin.JWTSecret),
			ReloadRate:  cfg.Admin.ReloadRate,
			ReloadBurst: cfg.Admin.ReloadBurst,
		}, registry,
			admin.WithCluster(coordinator),
			admin.WithInstaller(module.NewInstaller(registry, logger)),
			admin.WithLogger(logger),
		)
		adminErrCh, err := adminServer.Start()
		if err != nil {
			return oops.In("serve").Wrapf(err, "start admin server")
		}
		defer stopServer(logger, "admin", adminServer.Stop)
		go monitorServerErrors(ctx, cancel, adminErrCh, "admin")
		logger.InfoContext(ctx, "admin server started", "addr", adminServer.Addr())
	}

	loaded.Store(true)
	cmd.Println("dyno is serving")
	if deps.Ready != nil {
		deps.Ready()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func stopServer(logger *slog.Logger, name string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		errutil.LogWarn(logger, "error stopping "+name+" server", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
// It exits when an error arrives, the channel closes, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
