// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/admin"
	"github.com/dynohq/dyno/internal/config"
	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/observability"
)

const pingModule = `
function register()
  dyno.command("ping", function() return "pong" end)
end
`

const testSecret = "test-secret"

func writeModule(t *testing.T, root, name, src string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "init.lua"), []byte(src), 0o600))
}

func testConfig(root string) *config.Config {
	return &config.Config{
		LogFormat: "text",
		LogLevel:  "error",
		Modules:   config.Modules{Dir: root},
		IPC:       config.IPC{Prefix: "dyno:ipc:", RequestTimeout: time.Second, Transport: config.TransportMemory},
		Admin: config.Admin{
			Addr:        "127.0.0.1:0",
			UserIDs:     []string{"admin-1"},
			JWTSecret:   testSecret,
			ReloadRate:  100,
			ReloadBurst: 100,
		},
	}
}

func quietCmd() (*cobra.Command, *bytes.Buffer) {
	out := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	return cmd, out
}

func restoreDefaultLogger(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

type running struct {
	admin AdminServer
	done  chan error
	stop  context.CancelFunc
}

// startServe runs the serve loop in the background until the test ends.
func startServe(t *testing.T, cfg *config.Config, deps *ServeDeps) *running {
	t.Helper()
	restoreDefaultLogger(t)
	if deps == nil {
		deps = &ServeDeps{}
	}
	r := &running{done: make(chan error, 1)}
	ready := make(chan struct{})
	deps.AdminServerFactory = func(c admin.Config, modules admin.Modules, opts ...admin.Option) AdminServer {
		r.admin = admin.NewServer(c, modules, opts...)
		return r.admin
	}
	deps.Ready = func() { close(ready) }

	ctx, cancel := context.WithCancel(context.Background())
	r.stop = cancel
	cmd, _ := quietCmd()
	go func() { r.done <- runServeWithDeps(ctx, cfg, cmd, deps) }()

	select {
	case <-ready:
	case err := <-r.done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("serve did not become ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Error("serve did not shut down")
		}
	})
	return r
}

func TestServe_LoadsModulesAndServesAdminAPI(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "ping", pingModule)
	cfg := testConfig(root)
	r := startServe(t, cfg, nil)

	token, err := admin.NewToken([]byte(testSecret), "admin-1", time.Minute)
	require.NoError(t, err)
	client := admin.NewClient(r.admin.Addr(), token)
	ctx := context.Background()

	list, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, list.Modules, 1)
	assert.Equal(t, "ping", list.Modules[0].Name)

	res, err := client.Reload(ctx, "ping", false)
	require.NoError(t, err)
	assert.True(t, res.Reloaded)

	res, err = client.Reload(ctx, "ping", true)
	require.NoError(t, err)
	assert.Equal(t, admin.ScopeCluster, res.Scope)
}

func TestServe_ReturnsNilOnCancel(t *testing.T) {
	r := startServe(t, testConfig(t.TempDir()), nil)
	r.stop()
	select {
	case err := <-r.done:
		require.NoError(t, err)
		r.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestServe_CLIAgainstRunningInstance(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "ping", pingModule)
	cfg := testConfig(root)
	r := startServe(t, cfg, nil)

	conf := *cfg
	conf.Admin.Addr = r.admin.Addr()
	cmd, out := quietCmd()

	require.NoError(t, runReload(context.Background(), cmd, &conf, &reloadConfig{}, "ping", nil))
	assert.Contains(t, out.String(), "reloaded ping")

	out.Reset()
	require.NoError(t, runModules(context.Background(), cmd, &conf, &modulesConfig{}, nil))
	assert.Contains(t, out.String(), "ping")
	assert.Contains(t, out.String(), "lua")

	err := runReload(context.Background(), cmd, &conf, &reloadConfig{}, "missing", nil)
	require.Error(t, err)
}

func TestServe_RootCommandFlags(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "ping", pingModule)
	r := startServe(t, testConfig(root), nil)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	confPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte("admin:\n  user_ids: [admin-1]\n  jwt_secret: "+testSecret+"\n"), 0o600))

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"modules", "--json", "--config", confPath, "--admin-addr", r.admin.Addr()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"name": "ping"`)
}

func TestServe_HotReload(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "ping", pingModule)
	cfg := testConfig(root)
	cfg.Modules.HotReload = true
	r := startServe(t, cfg, nil)

	token, err := admin.NewToken([]byte(testSecret), "admin-1", time.Minute)
	require.NoError(t, err)
	client := admin.NewClient(r.admin.Addr(), token)

	src := `function register() dyno.command("pong", function() return "ping" end) end`
	require.NoError(t, os.WriteFile(filepath.Join(root, "pong.lua"), []byte(src), 0o600))
	assert.Eventually(t, func() bool {
		list, err := client.List(context.Background())
		return err == nil && len(list.Modules) == 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestServe_TransportFailure(t *testing.T) {
	restoreDefaultLogger(t)
	cmd, _ := quietCmd()
	err := runServeWithDeps(context.Background(), testConfig(t.TempDir()), cmd, &ServeDeps{
		TransportFactory: func(context.Context, *config.Config) (ipc.Transport, error) {
			return nil, errors.New("redis down")
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

type failingObservability struct{}

func (failingObservability) Start() (<-chan error, error)         { return nil, errors.New("port in use") }
func (failingObservability) Stop(context.Context) error           { return nil }
func (failingObservability) Addr() string                         { return "" }
func (failingObservability) Metrics() *observability.Metrics      { return nil }
func (failingObservability) AddCheck(string, observability.Check) {}

func TestServe_ObservabilityFailure(t *testing.T) {
	restoreDefaultLogger(t)
	cfg := testConfig(t.TempDir())
	cfg.Metrics.Addr = "127.0.0.1:0"
	cmd, _ := quietCmd()
	err := runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
		ObservabilityServerFactory: func(string, *slog.Logger) ObservabilityServer {
			return failingObservability{}
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port in use")
}

func TestServe_MetricsReadiness(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Metrics.Addr = "127.0.0.1:0"
	var obs *observability.Server
	startServe(t, cfg, &ServeDeps{
		ObservabilityServerFactory: func(addr string, logger *slog.Logger) ObservabilityServer {
			obs = observability.NewServer(addr, observability.WithLogger(logger))
			return obs
		},
	})
	require.NotNil(t, obs)
	assert.NotEmpty(t, obs.Addr())

	report := obs.Ready(context.Background())
	assert.True(t, report.Ready)
	assert.Equal(t, map[string]string{"ipc": "ok", "modules": "ok"}, report.Checks)
}

func TestServe_BadLogFormat(t *testing.T) {
	restoreDefaultLogger(t)
	cfg := testConfig(t.TempDir())
	cfg.LogFormat = "xml"
	cmd, _ := quietCmd()
	require.Error(t, runServeWithDeps(context.Background(), cfg, cmd, nil))
}
