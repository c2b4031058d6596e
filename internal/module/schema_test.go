// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/module"
)

func TestGenerateSchema(t *testing.T) {
	data, err := module.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, module.SchemaID, schema["$id"])
	assert.Equal(t, "Dyno Module Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"name", "version", "type", "entry", "host_api", "capabilities"} {
		assert.Contains(t, props, key)
	}
	assert.ElementsMatch(t, []any{"name", "version", "type", "entry"}, schema["required"])
}

func TestValidateSchema(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"valid", "name: ping\nversion: 1.0.0\ntype: lua\nentry: init.lua\n", false},
		{"numeric version", "name: ping\nversion: 1.0\ntype: lua\nentry: init.lua\n", true},
		{"wrong type enum", "name: ping\nversion: 1.0.0\ntype: wasm\nentry: init.lua\n", true},
		{"capabilities not a list", "name: ping\nversion: 1.0.0\ntype: lua\nentry: x.lua\ncapabilities: all\n", true},
		{"not yaml", "name: [", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := module.ValidateSchema([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, module.FormatSchemaError(nil))
	assert.Equal(t, "bad", module.FormatSchemaError(errors.New("schema validation failed: bad")))
}
