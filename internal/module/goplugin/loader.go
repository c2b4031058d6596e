// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package goplugin loads binary modules as HashiCorp go-plugin processes.
// Every load starts a new process, so a reload always runs the current binary.
package goplugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module"
	"github.com/dynohq/dyno/internal/module/capability"
	"github.com/dynohq/dyno/pkg/modulesdk"
)

// Compile-time interface checks.
var (
	_ module.Loader   = (*Loader)(nil)
	_ module.Instance = (*instance)(nil)
)

// ErrClosed is returned by commands of a killed module process.
var ErrClosed = errors.New("module process is closed")

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client starts the process if needed and returns the RPC protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the module process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory launches real module processes.
type DefaultClientFactory struct{}

// NewClient creates a go-plugin client speaking net/rpc to execPath.
func (DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  modulesdk.Handshake,
		Plugins:          modulesdk.PluginSet(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath comes from a validated manifest entry
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Loader instantiates binary modules.
type Loader struct {
	factory  ClientFactory
	enforcer *capability.Enforcer
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithClientFactory replaces the process launcher.
func WithClientFactory(f ClientFactory) Option {
	return func(l *Loader) {
		l.factory = f
	}
}

// WithEnforcer sets the enforcer that gates command registration.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(l *Loader) {
		l.enforcer = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a binary module loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		factory:  DefaultClientFactory{},
		enforcer: capability.NewEnforcer(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Kind implements module.Loader.
func (l *Loader) Kind() module.Kind {
	return module.KindBinary
}

// Load starts the module process and asks it for its commands.
func (l *Loader) Load(_ context.Context, src module.Source, bot *host.Bot) (module.Instance, error) {
	errb := oops.In("goplugin").With("module", src.Name).With("entry", src.Entry)

	info, err := os.Stat(src.Entry)
	if err != nil {
		return nil, errb.Hint("module executable not found").Wrap(err)
	}
	if !info.Mode().IsRegular() {
		return nil, errb.Errorf("module executable is not a regular file")
	}

	client := l.factory.NewClient(src.Entry)
	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to start module process").Wrap(err)
	}
	raw, err := proto.Dispense(modulesdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to dispense module").Wrap(err)
	}
	mod, ok := raw.(modulesdk.Client)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("module does not implement the dyno module protocol")
	}
	specs, err := mod.Describe()
	if err != nil {
		client.Kill()
		return nil, errb.Hint("describe failed").Wrap(err)
	}

	return &instance{
		name:     src.Name,
		client:   client,
		mod:      mod,
		specs:    specs,
		bot:      bot,
		owner:    host.NewOwner(src.Name),
		enforcer: l.enforcer,
		logger:   l.logger.With("module", src.Name),
	}, nil
}

type instance struct {
	name     string
	client   PluginClient
	mod      modulesdk.Client
	specs    []modulesdk.CommandSpec
	bot      *host.Bot
	owner    host.Owner
	enforcer *capability.Enforcer
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Capabilities implements module.Instance.
func (i *instance) Capabilities() module.Capabilities {
	return module.Capabilities{
		Register: i.register,
		Unload:   i.unload,
	}
}

func (i *instance) register(_ context.Context) error {
	if err := i.mod.Register(); err != nil {
		return oops.In("goplugin").With("module", i.name).Wrapf(err, "module register")
	}
	if len(i.specs) > 0 && !i.enforcer.Check(i.name, capability.CommandsRegister) {
		return oops.In("goplugin").With("module", i.name).
			Errorf("capability denied: %s requires %s", i.name, capability.CommandsRegister)
	}
	for _, spec := range i.specs {
		err := i.bot.RegisterCommand(i.owner, host.Command{
			Name:        spec.Name,
			Description: spec.Description,
			Execute:     i.execute,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *instance) unload(_ context.Context) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrClosed
	}
	if err := i.mod.Unload(); err != nil {
		return oops.In("goplugin").With("module", i.name).Wrapf(err, "module unload")
	}
	return nil
}

func (i *instance) execute(_ context.Context, inv host.Invocation) (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return "", ErrClosed
	}
	return i.mod.Execute(modulesdk.Invocation{
		Command:   inv.Command,
		Args:      inv.Args,
		UserID:    inv.UserID,
		ChannelID: inv.ChannelID,
		GuildID:   inv.GuildID,
	})
}

// Close releases the module's commands and kills the process.
func (i *instance) Close() error {
	i.bot.Release(i.owner)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.client.Kill()
	i.logger.Debug("module process stopped")
	return nil
}
