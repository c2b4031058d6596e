// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module/capability"
)

// ManifestFile is the manifest filename inside a module directory.
const ManifestFile = "module.yaml"

// Kind identifies the runtime a module is loaded with.
type Kind string

// Supported module kinds.
const (
	KindLua    Kind = "lua"
	KindBinary Kind = "binary"
)

// Manifest represents a module.yaml file.
type Manifest struct {
	Name         string   `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version      string   `yaml:"version" json:"version"`
	Type         Kind     `yaml:"type" json:"type" jsonschema:"enum=lua,enum=binary"`
	Entry        string   `yaml:"entry" json:"entry"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	HostAPI      string   `yaml:"host_api,omitempty" json:"host_api,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

const maxNameLength = 64

// namePattern: starts with a-z, then a-z, 0-9 or hyphens, no trailing hyphen.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest validates data against the manifest schema, decodes it and
// checks the semantic constraints.
func ParseManifest(data []byte) (*Manifest, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints the schema cannot express.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").With("name", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return errb.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return errb.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return errb.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errb.With("version", m.Version).Wrapf(err, "version is not semver")
	}

	switch m.Type {
	case KindLua, KindBinary:
	default:
		return errb.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	if m.Entry == "" {
		return errb.Errorf("entry is required")
	}
	if !filepath.IsLocal(m.Entry) {
		return errb.With("entry", m.Entry).Errorf("entry must be a path inside the module directory")
	}

	if m.HostAPI != "" {
		if err := checkHostAPI(m.HostAPI); err != nil {
			return errb.With("host_api", m.HostAPI).Wrap(err)
		}
	}

	if err := capability.Compile(m.Capabilities); err != nil {
		return errb.Wrapf(err, "invalid capabilities")
	}
	return nil
}

func checkHostAPI(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return oops.Wrapf(err, "invalid host_api constraint")
	}
	v := semver.MustParse(host.APIVersion)
	if ok, errs := c.Validate(v); !ok {
		return oops.With("host_api_version", host.APIVersion).Errorf("host API %s does not satisfy %q: %v", host.APIVersion, constraint, errs)
	}
	return nil
}

// Grants returns the capability grants declared by the manifest.
func (m *Manifest) Grants() []string {
	if m == nil {
		return capability.DefaultGrants
	}
	out := make([]string, len(m.Capabilities))
	copy(out, m.Capabilities)
	return out
}
