// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/dynohq/dyno/internal/admin"
	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// TransportFactory opens the IPC transport.
	// Default: redis.Dial or an in-process memory bus, per ipc.transport.
	TransportFactory func(ctx context.Context, cfg *config.Config) (ipc.Transport, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, logger *slog.Logger) ObservabilityServer

	// AdminServerFactory creates the admin API server.
	// Default: admin.NewServer
	AdminServerFactory func(cfg admin.Config, modules admin.Modules, opts ...admin.Option) AdminServer

	// Ready is called once every component is serving.
	Ready func()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	AddCheck(name string, check observability.Check)
}

// AdminServer interface wraps the methods used from admin.Server.
type AdminServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
