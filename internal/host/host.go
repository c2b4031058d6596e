// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package host provides the shared context handed to every loaded module.
//
// Modules use the Bot to contribute commands and event hooks. Everything a
// module contributes is recorded against an Owner so that a single module
// instance can be released without touching the instance that replaced it.
package host

import (
	"context"
	"crypto/rand"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// APIVersion is the host API version modules may constrain against in their manifest.
const APIVersion = "1.2.0"

// Error codes for host operations.
const (
	CodeInvalidCommand  = "HOST_INVALID_COMMAND"
	CodeCommandConflict = "HOST_COMMAND_CONFLICT"
)

// commandNamePattern restricts command names to what chat users can type.
var commandNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Owner identifies the module instance that contributed a command or hook.
type Owner struct {
	Module   string
	Instance string
}

// NewOwner returns an owner for a fresh instance of module.
func NewOwner(module string) Owner {
	return Owner{
		Module:   module,
		Instance: ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
	}
}

// Publisher broadcasts payloads to other processes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Bot is the host context shared by all modules.
type Bot struct {
	mu        sync.RWMutex
	commands  map[string][]Command
	hooks     map[string][]hookEntry
	publisher Publisher
	logger    *slog.Logger
}

type hookEntry struct {
	owner Owner
	fn    Hook
}

// Option configures a Bot.
type Option func(*Bot)

// WithPublisher lets modules publish over the messaging layer.
func WithPublisher(p Publisher) Option {
	return func(b *Bot) {
		b.publisher = p
	}
}

// WithLogger sets the logger used for hook failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		b.logger = l
	}
}

// New creates a Bot.
func New(opts ...Option) *Bot {
	b := &Bot{
		commands: make(map[string][]Command),
		hooks:    make(map[string][]hookEntry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publisher returns the configured publisher, or nil.
func (b *Bot) Publisher() Publisher {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.publisher
}

// SetPublisher replaces the publisher after construction.
// The messaging layer is usually started after the bot exists.
func (b *Bot) SetPublisher(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher = p
}

// RegisterCommand adds a command on behalf of owner.
// A command name belongs to one module at a time. A newer instance of that
// module shadows the current command; releasing it uncovers the older one,
// which is how a failed reload falls back to the previous instance.
func (b *Bot) RegisterCommand(owner Owner, cmd Command) error {
	if !commandNamePattern.MatchString(cmd.Name) {
		return oops.In("host").Code(CodeInvalidCommand).
			With("module", owner.Module).
			With("command", cmd.Name).
			Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Execute == nil {
		return oops.In("host").Code(CodeInvalidCommand).
			With("module", owner.Module).
			With("command", cmd.Name).
			Errorf("command %q has no handler", cmd.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	stack := b.commands[cmd.Name]
	if n := len(stack); n > 0 && stack[n-1].Owner.Module != owner.Module {
		existing := stack[n-1].Owner.Module
		return oops.In("host").Code(CodeCommandConflict).
			With("module", owner.Module).
			With("command", cmd.Name).
			With("owner", existing).
			Errorf("command %q is already registered by module %s", cmd.Name, existing)
	}

	cmd.Owner = owner
	kept := stack[:0]
	for _, c := range stack {
		if c.Owner != owner {
			kept = append(kept, c)
		}
	}
	b.commands[cmd.Name] = append(kept, cmd)
	return nil
}

// Command looks up a registered command.
func (b *Bot) Command(name string) (Command, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stack := b.commands[name]
	if len(stack) == 0 {
		return Command{}, false
	}
	return stack[len(stack)-1], true
}

// Commands returns all registered commands sorted by name.
func (b *Bot) Commands() []Command {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cmds := make([]Command, 0, len(b.commands))
	for _, stack := range b.commands {
		cmds = append(cmds, stack[len(stack)-1])
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// On subscribes a hook to a named event.
func (b *Bot) On(owner Owner, event string, fn Hook) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[event] = append(b.hooks[event], hookEntry{owner: owner, fn: fn})
}

// Emit runs every hook subscribed to event and returns how many ran.
// Hook errors are logged; they never stop the remaining hooks.
func (b *Bot) Emit(ctx context.Context, event string, payload any) int {
	b.mu.RLock()
	entries := append([]hookEntry(nil), b.hooks[event]...)
	b.mu.RUnlock()

	for _, e := range entries {
		if err := e.fn(ctx, payload); err != nil {
			b.logger.Error("module hook failed",
				"module", e.owner.Module,
				"event", event,
				"error", err)
		}
	}
	return len(entries)
}

// Release removes every command and hook contributed by owner.
// Contributions of other instances of the same module are kept.
func (b *Bot) Release(owner Owner) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, stack := range b.commands {
		kept := stack[:0]
		for _, c := range stack {
			if c.Owner != owner {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(b.commands, name)
			continue
		}
		b.commands[name] = kept
	}
	for event, entries := range b.hooks {
		kept := entries[:0]
		for _, e := range entries {
			if e.owner != owner {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.hooks, event)
			continue
		}
		b.hooks[event] = kept
	}
}
