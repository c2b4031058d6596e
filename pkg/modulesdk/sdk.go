// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package modulesdk is the SDK for building dyno binary modules.
//
// A binary module is a separate executable. The host starts a new process for
// every load, talks to it over HashiCorp go-plugin (net/rpc), and kills it when
// the instance is replaced or unloaded.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"strings"
//
//		"github.com/dynohq/dyno/pkg/modulesdk"
//	)
//
//	type Echo struct{}
//
//	func (Echo) Commands() []modulesdk.CommandSpec {
//		return []modulesdk.CommandSpec{{Name: "echo", Description: "Repeat the arguments"}}
//	}
//
//	func (Echo) Execute(_ context.Context, inv modulesdk.Invocation) (string, error) {
//		return strings.Join(inv.Args, " "), nil
//	}
//
//	func main() {
//		modulesdk.Serve(Echo{})
//	}
package modulesdk

import (
	"context"

	hashiplug "github.com/hashicorp/go-plugin"
)

// Handshake must match between the host and every module binary.
var Handshake = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DYNO_MODULE",
	MagicCookieValue: "d7b0c1e4-module",
}

// PluginName is the key modules are dispensed under.
const PluginName = "module"

// CommandSpec declares a command the module provides.
type CommandSpec struct {
	Name        string
	Description string
}

// Invocation is a command call forwarded from the host.
type Invocation struct {
	Command   string
	Args      []string
	UserID    string
	ChannelID string
	GuildID   string
}

// Module is implemented by binary modules.
type Module interface {
	// Commands lists the commands the host registers for this module.
	Commands() []CommandSpec
	// Execute runs one of the declared commands and returns the reply.
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// Registerer is implemented by modules that need setup when activated.
type Registerer interface {
	Register(ctx context.Context) error
}

// Unloader is implemented by modules that need teardown before replacement.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Client is the host-side view of a running module process.
type Client interface {
	Describe() ([]CommandSpec, error)
	Register() error
	Unload() error
	Execute(inv Invocation) (string, error)
}

// PluginSet returns the plugin map for host and module.
func PluginSet(impl Module) hashiplug.PluginSet {
	return hashiplug.PluginSet{PluginName: &ModulePlugin{Impl: impl}}
}

// Serve runs m as a module process. It blocks until the host disconnects.
func Serve(m Module) {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginSet(m),
	})
}
