// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package modulesdk_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/pkg/modulesdk"
)

type echo struct{}

func (echo) Commands() []modulesdk.CommandSpec {
	return []modulesdk.CommandSpec{{Name: "echo", Description: "Repeat the arguments"}}
}

func (echo) Execute(_ context.Context, inv modulesdk.Invocation) (string, error) {
	if inv.Command != "echo" {
		return "", errors.New("unknown command " + inv.Command)
	}
	return strings.Join(inv.Args, " "), nil
}

type lifecycle struct {
	echo
	registerErr error
	registered  atomic.Int32
	unloaded    atomic.Int32
}

func (l *lifecycle) Register(context.Context) error {
	l.registered.Add(1)
	return l.registerErr
}

func (l *lifecycle) Unload(context.Context) error {
	l.unloaded.Add(1)
	return nil
}

func dispense(t *testing.T, impl modulesdk.Module) modulesdk.Client {
	t.Helper()
	client, _ := hashiplug.TestPluginRPCConn(t, modulesdk.PluginSet(impl), nil)
	t.Cleanup(func() { _ = client.Close() })

	raw, err := client.Dispense(modulesdk.PluginName)
	require.NoError(t, err)
	c, ok := raw.(modulesdk.Client)
	require.True(t, ok)
	return c
}

func TestRPC_DescribeAndExecute(t *testing.T) {
	c := dispense(t, echo{})

	cmds, err := c.Describe()
	require.NoError(t, err)
	assert.Equal(t, []modulesdk.CommandSpec{{Name: "echo", Description: "Repeat the arguments"}}, cmds)

	out, err := c.Execute(modulesdk.Invocation{Command: "echo", Args: []string{"hi", "there"}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	_, err = c.Execute(modulesdk.Invocation{Command: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command nope")
}

func TestRPC_OptionalHooks(t *testing.T) {
	c := dispense(t, echo{})
	assert.NoError(t, c.Register())
	assert.NoError(t, c.Unload())
}

func TestRPC_LifecycleHooks(t *testing.T) {
	impl := &lifecycle{}
	c := dispense(t, impl)

	require.NoError(t, c.Register())
	require.NoError(t, c.Unload())
	assert.Equal(t, int32(1), impl.registered.Load())
	assert.Equal(t, int32(1), impl.unloaded.Load())

	failing := dispense(t, &lifecycle{registerErr: errors.New("config missing")})
	err := failing.Register()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config missing")
}

func TestModulePlugin_ServerRequiresImpl(t *testing.T) {
	_, err := (&modulesdk.ModulePlugin{}).Server(nil)
	assert.Error(t, err)
}
