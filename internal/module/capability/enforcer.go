// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package capability grants loaded modules access to host functions.
//
// Capabilities are dot-separated names such as "commands.register" or
// "ipc.publish.modules.reload". Grants are gobwas/glob patterns compiled with
// '.' as the separator, so '*' matches one segment and '**' matches any number.
package capability

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Well-known capabilities checked by module host functions.
const (
	CommandsRegister = "commands.register"
	EventsSubscribe  = "events.subscribe"
	IPCPublish       = "ipc.publish"
)

// DefaultGrants apply to modules that ship without a manifest.
var DefaultGrants = []string{"commands.**", "events.**", "ipc.**"}

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks module capabilities at runtime. It is safe for concurrent use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// Compile validates grant patterns without installing them.
func Compile(patterns []string) error {
	_, err := compile(patterns)
	return err
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, p := range patterns {
		if p == "" {
			return nil, oops.In("capability").With("index", i).New("empty capability pattern")
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, oops.In("capability").With("index", i).With("pattern", p).Wrap(err)
		}
		compiled[i] = compiledGrant{pattern: p, glob: g}
	}
	return compiled, nil
}

// SetGrants replaces the grants of module. Nothing changes if any pattern is invalid.
func (e *Enforcer) SetGrants(module string, patterns []string) error {
	if module == "" {
		return oops.In("capability").New("module name cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[module] = compiled
	return nil
}

// RemoveGrants forgets module. Unknown modules are ignored.
func (e *Enforcer) RemoveGrants(module string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, module)
}

// Grants returns a copy of the patterns granted to module, or nil.
func (e *Enforcer) Grants(module string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[module]
	if !ok {
		return nil
	}
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.pattern
	}
	return out
}

// Modules lists modules with grants, sorted.
func (e *Enforcer) Modules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.grants))
	for name := range e.grants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check reports whether module holds capability. Unknown modules and empty
// capabilities are denied.
func (e *Enforcer) Check(module, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, g := range e.grants[module] {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}
