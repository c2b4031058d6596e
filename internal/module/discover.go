// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"os"
	"path/filepath"
	"strings"
)

// candidates lists locators for name under root in discovery priority order.
func candidates(root, name string) []string {
	dir := filepath.Join(root, name)
	return []string{
		filepath.Join(dir, ManifestFile),
		filepath.Join(dir, "init.lua"),
		filepath.Join(dir, name+".lua"),
		filepath.Join(root, name+".lua"),
	}
}

// validName rejects names that could escape the root or refer to hidden files.
func validName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.HasPrefix(name, ".") &&
		filepath.Base(name) == name
}

// discover returns the first candidate that is an existing regular file.
func discover(root, name string) (string, error) {
	if !validName(name) {
		return "", notFound(name)
	}
	for _, path := range candidates(root, name) {
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", notFound(name)
}
