// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Command gen-schema writes the JSON Schema for module.yaml manifests.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/dynohq/dyno/internal/module"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "module.schema.json"), "output path")
	pflag.Parse()

	if err := run(*out, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(outPath string, w io.Writer) error {
	schema, err := module.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Generated %s\n", outPath)
	return nil
}
