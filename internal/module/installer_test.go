// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/module"
	"github.com/dynohq/dyno/pkg/errutil"
)

func TestInstaller_Install_DirectoryName(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "greeter")
	writeFile(t, filepath.Join(src, "init.lua"), "version=1")

	inst := module.NewInstaller(f.registry, nil)
	h, err := inst.Install(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "greeter", h.Name)
	assert.Equal(t, filepath.Join(f.root, "greeter", "init.lua"), h.Locator)
	assert.FileExists(t, filepath.Join(f.root, "greeter", "init.lua"))
	assert.Equal(t, "greeter@1", f.describe("greeter"))
}

func TestInstaller_Install_ManifestName(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "checkout-123")
	writeFile(t, filepath.Join(src, module.ManifestFile), "name: sample\nversion: 1.0.0\ntype: lua\nentry: main.lua\ncapabilities: [commands.register]\n")
	writeFile(t, filepath.Join(src, "main.lua"), "version=1")

	h, err := module.NewInstaller(f.registry, nil).Install(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "sample", h.Name)
	assert.DirExists(t, filepath.Join(f.root, "sample"))
}

func TestInstaller_Install_FailureRemovesCopy(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "broken")
	writeFile(t, filepath.Join(src, "init.lua"), "register=fail")

	_, err := module.NewInstaller(f.registry, nil).Install(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrLoadFailed)
	assert.NoDirExists(t, filepath.Join(f.root, "broken"))
	assert.Equal(t, module.StatusAbsent, f.registry.Status("broken"))
}

func TestInstaller_Install_NoEntryRemovesCopy(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "docs")
	writeFile(t, filepath.Join(src, "README.md"), "hello")

	_, err := module.NewInstaller(f.registry, nil).Install(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(f.root, "docs"))
}

func TestInstaller_Install_Exists(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.root, "greeter", "init.lua"), "version=1")
	src := filepath.Join(t.TempDir(), "greeter")
	writeFile(t, filepath.Join(src, "init.lua"), "version=2")

	_, err := module.NewInstaller(f.registry, nil).Install(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, module.ErrExists)
	errutil.AssertErrorCode(t, err, module.CodeExists)

	data, err := os.ReadFile(filepath.Join(f.root, "greeter", "init.lua"))
	require.NoError(t, err)
	assert.Equal(t, "version=1", string(data))
}

func TestInstaller_Install_InvalidSource(t *testing.T) {
	f := newFixture(t)
	inst := module.NewInstaller(f.registry, nil)

	_, err := inst.Install(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "Bad_Name")
	mkdirAll(t, bad)
	_, err = inst.Install(context.Background(), bad)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, module.CodeInvalidName)
}

func TestInstaller_Uninstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "greeter")
	writeFile(t, filepath.Join(src, "init.lua"), "version=1")
	inst := module.NewInstaller(f.registry, nil)
	_, err := inst.Install(ctx, src)
	require.NoError(t, err)

	removed, err := inst.Uninstall(ctx, "greeter")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(f.root, "greeter"))
	assert.Empty(t, f.describe("greeter"))

	removed, err = inst.Uninstall(ctx, "greeter")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = inst.Uninstall(ctx, "../etc")
	assert.ErrorIs(t, err, module.ErrNotFound)
}
