// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/module"
)

func TestRegistry_Discover_Priority(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.root, "ping")
	top := filepath.Join(f.root, "ping.lua")
	named := filepath.Join(dir, "ping.lua")
	initLua := filepath.Join(dir, "init.lua")
	manifest := filepath.Join(dir, module.ManifestFile)

	writeFile(t, top, "")
	got, err := f.registry.Discover("ping")
	require.NoError(t, err)
	assert.Equal(t, top, got)

	writeFile(t, named, "")
	got, err = f.registry.Discover("ping")
	require.NoError(t, err)
	assert.Equal(t, named, got)

	writeFile(t, initLua, "")
	got, err = f.registry.Discover("ping")
	require.NoError(t, err)
	assert.Equal(t, initLua, got)

	writeFile(t, manifest, "")
	got, err = f.registry.Discover("ping")
	require.NoError(t, err)
	assert.Equal(t, manifest, got)
}

func TestRegistry_Discover_IgnoresDirectories(t *testing.T) {
	f := newFixture(t)
	mkdirAll(t, filepath.Join(f.root, "ping", "init.lua"))

	_, err := f.registry.Discover("ping")
	assert.ErrorIs(t, err, module.ErrNotFound)
}

func TestRegistry_Discover_InvalidNames(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.root, ".hidden.lua"), "")
	writeFile(t, filepath.Join(f.root, "sub", "nested", "init.lua"), "")

	for _, name := range []string{"", ".hidden", "sub/nested", "../escape", `a\b`} {
		t.Run(name, func(t *testing.T) {
			_, err := f.registry.Discover(name)
			assert.ErrorIs(t, err, module.ErrNotFound)
		})
	}
}

func TestResolveSource(t *testing.T) {
	root := t.TempDir()

	t.Run("bare lua file", func(t *testing.T) {
		locator := filepath.Join(root, "ping.lua")
		writeFile(t, locator, "")

		src, err := module.ResolveSource(locator, "ping")
		require.NoError(t, err)
		assert.Equal(t, module.KindLua, src.Kind)
		assert.Equal(t, locator, src.Entry)
		assert.Nil(t, src.Manifest)
		assert.Empty(t, src.Version())
		assert.NotEmpty(t, src.Grants())
	})

	t.Run("manifest", func(t *testing.T) {
		dir := filepath.Join(root, "echo")
		locator := filepath.Join(dir, module.ManifestFile)
		writeFile(t, locator, "name: echo\nversion: 0.1.0\ntype: binary\nentry: bin/echo\n")

		src, err := module.ResolveSource(locator, "echo")
		require.NoError(t, err)
		assert.Equal(t, module.KindBinary, src.Kind)
		assert.Equal(t, dir, src.Dir)
		assert.Equal(t, filepath.Join(dir, "bin", "echo"), src.Entry)
		assert.Equal(t, "0.1.0", src.Version())
		assert.Empty(t, src.Grants())
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := module.ResolveSource(filepath.Join(root, "x.py"), "x")
		assert.Error(t, err)
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := module.ResolveSource(filepath.Join(root, "gone", module.ManifestFile), "gone")
		assert.Error(t, err)
	})
}
