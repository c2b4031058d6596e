// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/module"
)

func TestParseManifest_Lua(t *testing.T) {
	m, err := module.ParseManifest([]byte(`
name: sample-plugin
version: 1.0.0
type: lua
entry: main.lua
description: Sample module
host_api: ">= 1.0.0, < 2.0.0"
capabilities:
  - commands.register
  - ipc.publish.**
`))
	require.NoError(t, err)

	assert.Equal(t, "sample-plugin", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, module.KindLua, m.Type)
	assert.Equal(t, "main.lua", m.Entry)
	assert.Equal(t, []string{"commands.register", "ipc.publish.**"}, m.Grants())
}

func TestParseManifest_Binary(t *testing.T) {
	m, err := module.ParseManifest([]byte("name: echo\nversion: 2.1.0-rc.1\ntype: binary\nentry: echo\n"))
	require.NoError(t, err)
	assert.Equal(t, module.KindBinary, m.Type)
	assert.Empty(t, m.Grants())
}

func TestParseManifest_Invalid(t *testing.T) {
	valid := map[string]string{
		"name":    "name: ok",
		"version": "version: 1.0.0",
		"type":    "type: lua",
		"entry":   "entry: main.lua",
	}
	build := func(override map[string]string) []byte {
		lines := make([]string, 0, len(valid)+len(override))
		for k, v := range valid {
			if o, ok := override[k]; ok {
				if o != "" {
					lines = append(lines, o)
				}
				continue
			}
			lines = append(lines, v)
		}
		for k, v := range override {
			if _, ok := valid[k]; !ok {
				lines = append(lines, v)
			}
		}
		return []byte(strings.Join(lines, "\n"))
	}

	tests := []struct {
		name     string
		override map[string]string
	}{
		{"missing name", map[string]string{"name": ""}},
		{"uppercase name", map[string]string{"name": "name: Echo"}},
		{"trailing hyphen", map[string]string{"name": "name: echo-"}},
		{"long name", map[string]string{"name": "name: " + strings.Repeat("a", 65)}},
		{"missing version", map[string]string{"version": ""}},
		{"non semver version", map[string]string{"version": "version: banana"}},
		{"unknown type", map[string]string{"type": "type: python"}},
		{"missing entry", map[string]string{"entry": ""}},
		{"escaping entry", map[string]string{"entry": "entry: ../../etc/passwd"}},
		{"absolute entry", map[string]string{"entry": "entry: /bin/sh"}},
		{"unsatisfied host api", map[string]string{"host_api": "host_api: \">= 9.0.0\""}},
		{"bad host api", map[string]string{"host_api": "host_api: \"not a constraint\""}},
		{"bad capability", map[string]string{"capabilities": "capabilities: [\"ipc.[\"]"}},
		{"unknown field", map[string]string{"events": "events: [say]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := module.ParseManifest(build(tt.override))
			assert.Error(t, err)
		})
	}
}

func TestParseManifest_Empty(t *testing.T) {
	_, err := module.ParseManifest(nil)
	assert.Error(t, err)
}

func TestManifest_Grants_NilUsesDefaults(t *testing.T) {
	var m *module.Manifest
	assert.Equal(t, []string{"commands.**", "events.**", "ipc.**"}, m.Grants())
}
