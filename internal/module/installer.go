// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// Installer places fetched module directories into the registry root and
// loads them, removing the copy again if the load fails.
type Installer struct {
	registry *Registry
	logger   *slog.Logger
}

// NewInstaller creates an installer for registry.
func NewInstaller(registry *Registry, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{registry: registry, logger: logger}
}

// Install copies srcDir into the module root and loads it. The module name is
// the manifest name when srcDir has a manifest, otherwise the directory name.
func (i *Installer) Install(ctx context.Context, srcDir string) (*Handle, error) {
	name, err := installName(srcDir)
	if err != nil {
		return nil, err
	}
	errb := oops.In("installer").With("module", name).With("source", srcDir)

	dest := filepath.Join(i.registry.Root(), name)
	if _, err := os.Stat(dest); err == nil {
		return nil, errb.Code(CodeExists).Hint("uninstall it first").Wrap(ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, errb.Wrap(err)
	}

	if err := os.MkdirAll(i.registry.Root(), 0o750); err != nil {
		return nil, errb.Wrapf(err, "create module root")
	}
	if err := os.CopyFS(dest, os.DirFS(srcDir)); err != nil {
		i.cleanup(dest)
		return nil, errb.Wrapf(err, "copy module")
	}

	locator, err := i.registry.Discover(name)
	if err != nil {
		i.cleanup(dest)
		return nil, err
	}
	h, err := i.registry.Load(ctx, locator, name)
	if err != nil {
		i.cleanup(dest)
		return nil, err
	}

	i.logger.InfoContext(ctx, "module installed", "module", name, "dir", dest)
	return h, nil
}

// Uninstall unloads name and removes its directory. It reports false when
// there was nothing to remove.
func (i *Installer) Uninstall(ctx context.Context, name string) (bool, error) {
	if !validName(name) {
		return false, notFound(name)
	}

	removed := false
	if err := i.registry.Unload(ctx, name); err == nil {
		removed = true
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	dest := filepath.Join(i.registry.Root(), name)
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		if err := os.RemoveAll(dest); err != nil {
			return removed, oops.In("installer").With("module", name).Wrapf(err, "remove module directory")
		}
		removed = true
	}

	if removed {
		i.logger.InfoContext(ctx, "module uninstalled", "module", name)
	}
	return removed, nil
}

func (i *Installer) cleanup(dest string) {
	if err := os.RemoveAll(dest); err != nil {
		i.logger.Warn("failed to remove module directory", "dir", dest, "error", err)
	}
}

func installName(srcDir string) (string, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return "", oops.In("installer").With("source", srcDir).Wrap(err)
	}
	if !info.IsDir() {
		return "", oops.In("installer").With("source", srcDir).Errorf("source is not a directory")
	}

	data, err := os.ReadFile(filepath.Join(srcDir, ManifestFile)) //nolint:gosec // srcDir is an operator-supplied path
	switch {
	case err == nil:
		m, err := ParseManifest(data)
		if err != nil {
			return "", oops.In("installer").With("source", srcDir).Wrap(err)
		}
		return m.Name, nil
	case errors.Is(err, fs.ErrNotExist):
		name := filepath.Base(filepath.Clean(srcDir))
		if !validName(name) || !namePattern.MatchString(name) {
			return "", oops.In("installer").Code(CodeInvalidName).With("source", srcDir).Errorf("invalid module name %q", name)
		}
		return name, nil
	default:
		return "", oops.In("installer").With("source", srcDir).Wrap(err)
	}
}
