// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"context"
	"time"
)

// LifecycleFunc is a module hook. A nil LifecycleFunc is a no-op.
type LifecycleFunc func(ctx context.Context) error

// Capabilities are the lifecycle hooks a module instance exposes to the registry.
type Capabilities struct {
	// Register attaches the module's commands and hooks to the host.
	Register LifecycleFunc
	// Unload detaches them before the instance is replaced.
	Unload LifecycleFunc
}

// Instance is one live version of a module.
type Instance interface {
	Capabilities() Capabilities
	// Close releases loader-owned resources (Lua state, plugin process) and any
	// host contributions made by this instance.
	Close() error
}

// Status reports whether a module is installed.
type Status string

// Module statuses.
const (
	StatusActive Status = "active"
	StatusAbsent Status = "absent"
)

// Handle is the registry record for an installed module.
type Handle struct {
	Name     string
	Locator  string
	Kind     Kind
	Version  string
	Instance Instance
	Grants   []string
	LoadedAt time.Time
}

// Info is the serializable view of a Handle.
type Info struct {
	Name     string    `json:"name"`
	Locator  string    `json:"locator"`
	Kind     Kind      `json:"kind"`
	Version  string    `json:"version,omitempty"`
	Status   Status    `json:"status"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Info returns the serializable view of h.
func (h *Handle) Info() Info {
	return Info{
		Name:     h.Name,
		Locator:  h.Locator,
		Kind:     h.Kind,
		Version:  h.Version,
		Status:   StatusActive,
		LoadedAt: h.LoadedAt,
	}
}

// Func adapts plain hooks into an Instance. Useful for modules built into the
// binary and for tests.
type Func struct {
	RegisterFunc LifecycleFunc
	UnloadFunc   LifecycleFunc
	CloseFunc    func() error
}

// Capabilities implements Instance.
func (f *Func) Capabilities() Capabilities {
	return Capabilities{Register: f.RegisterFunc, Unload: f.UnloadFunc}
}

// Close implements Instance.
func (f *Func) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}
