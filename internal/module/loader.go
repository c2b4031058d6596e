// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/host"
)

// Source describes where a module version comes from. Loaders read it fresh
// on every Load, so a reload always sees the current files.
type Source struct {
	Name     string
	Locator  string
	Kind     Kind
	Dir      string
	Entry    string
	Manifest *Manifest
}

// Grants returns the capabilities the module runs with.
func (s Source) Grants() []string {
	return s.Manifest.Grants()
}

// Version returns the manifest version, or "".
func (s Source) Version() string {
	if s.Manifest == nil {
		return ""
	}
	return s.Manifest.Version
}

// Loader instantiates module versions of one Kind.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, src Source, bot *host.Bot) (Instance, error)
}

// kindByExt maps bare-file extensions to kinds.
var kindByExt = map[string]Kind{
	".lua": KindLua,
}

// ResolveSource inspects locator and builds the Source for name. A manifest
// locator is parsed and its name must match.
func ResolveSource(locator, name string) (Source, error) {
	errb := oops.In("module").With("module", name).With("locator", locator)

	if filepath.Base(locator) == ManifestFile {
		data, err := os.ReadFile(locator) //nolint:gosec // locator comes from Discover under the module root
		if err != nil {
			return Source{}, errb.Wrapf(err, "read manifest")
		}
		m, err := ParseManifest(data)
		if err != nil {
			return Source{}, errb.Wrap(err)
		}
		if m.Name != name {
			return Source{}, errb.With("manifest_name", m.Name).Errorf("manifest name %q does not match module %q", m.Name, name)
		}
		dir := filepath.Dir(locator)
		return Source{
			Name:     name,
			Locator:  locator,
			Kind:     m.Type,
			Dir:      dir,
			Entry:    filepath.Join(dir, m.Entry),
			Manifest: m,
		}, nil
	}

	kind, ok := kindByExt[strings.ToLower(filepath.Ext(locator))]
	if !ok {
		return Source{}, errb.Errorf("no loader for %q", filepath.Ext(locator))
	}
	return Source{
		Name:    name,
		Locator: locator,
		Kind:    kind,
		Dir:     filepath.Dir(locator),
		Entry:   locator,
	}, nil
}

// stem strips a recognized module extension from a top-level file name.
// ok is false for files that are not modules.
func stem(filename string) (string, bool) {
	ext := filepath.Ext(filename)
	if _, ok := kindByExt[strings.ToLower(ext)]; !ok {
		return "", false
	}
	return strings.TrimSuffix(filename, ext), true
}
