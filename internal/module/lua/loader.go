// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package lua

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module"
	"github.com/dynohq/dyno/internal/module/capability"
)

// Compile-time interface checks.
var (
	_ module.Loader   = (*Loader)(nil)
	_ module.Instance = (*instance)(nil)
)

// Lifecycle globals a module may define.
const (
	registerGlobal = "register"
	unloadGlobal   = "unload"
)

// Loader instantiates Lua modules.
type Loader struct {
	factory  *StateFactory
	enforcer *capability.Enforcer
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnforcer sets the enforcer host functions check capabilities against.
// It must be the enforcer the registry grants into.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(l *Loader) {
		l.enforcer = e
	}
}

// WithLogger sets the logger used by dyno.log and hook failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		factory:  NewStateFactory(),
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
	return module.KindLua
}

// Load reads the entry file, runs it in a new state and returns the instance.
// Top-level code runs during Load; register and unload run later.
func (l *Loader) Load(ctx context.Context, src module.Source, bot *host.Bot) (module.Instance, error) {
	errb := oops.In("lua").With("module", src.Name).With("entry", src.Entry)

	code, err := os.ReadFile(filepath.Clean(src.Entry))
	if err != nil {
		return nil, errb.Hint("failed to read entry file").Wrap(err)
	}

	L, err := l.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	owner := host.NewOwner(src.Name)
	inst := &instance{
		name:   src.Name,
		L:      L,
		bot:    bot,
		base:   owner,
		owner:  owner,
		logger: l.logger.With("module", src.Name),
	}
	newAPI(inst, l.enforcer).install(L)

	fn, err := L.Load(bytes.NewReader(code), filepath.Base(src.Entry))
	if err != nil {
		L.Close()
		return nil, errb.Hint("syntax error").Wrap(err)
	}
	L.Push(fn)
	if err := inst.pcall(ctx, 0, 0); err != nil {
		bot.Release(inst.owner)
		L.Close()
		return nil, errb.Hint("top-level code failed").Wrap(err)
	}

	inst.register = l.hook(L, registerGlobal)
	inst.unload = l.hook(L, unloadGlobal)
	return inst, nil
}

func (l *Loader) hook(L *lua.LState, global string) *lua.LFunction {
	fn, ok := L.GetGlobal(global).(*lua.LFunction)
	if !ok {
		return nil
	}
	return fn
}

// instance is one loaded Lua module. All access to L is serialized by mu.
//
// Top-level code contributes under base. Each register call contributes under
// a fresh owner, so running register again replaces its commands and hooks
// instead of adding to them.
type instance struct {
	name   string
	bot    *host.Bot
	base   host.Owner
	logger *slog.Logger

	mu       sync.Mutex
	owner    host.Owner
	L        *lua.LState
	closed   bool
	register *lua.LFunction
	unload   *lua.LFunction
}

// Capabilities implements module.Instance.
func (i *instance) Capabilities() module.Capabilities {
	var caps module.Capabilities
	if i.register != nil {
		run := i.lifecycle(i.register)
		caps.Register = func(ctx context.Context) error {
			i.rebind()
			return run(ctx)
		}
	}
	if i.unload != nil {
		caps.Unload = i.lifecycle(i.unload)
	}
	return caps
}

func (i *instance) lifecycle(fn *lua.LFunction) module.LifecycleFunc {
	return func(ctx context.Context) error {
		_, err := i.call(ctx, fn, 0)
		return err
	}
}

// rebind drops what an earlier register call contributed and gives the next
// one its own owner.
func (i *instance) rebind() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.owner != i.base {
		i.bot.Release(i.owner)
	}
	i.owner = host.NewOwner(i.name)
}

// Close releases the module's commands and hooks and closes the state.
func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.bot.Release(i.base)
	i.bot.Release(i.owner)
	if i.closed {
		return nil
	}
	i.closed = true
	i.L.Close()
	return nil
}

// call invokes fn with args and returns its first result.
func (i *instance) call(ctx context.Context, fn *lua.LFunction, nret int, args ...any) (lua.LValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return lua.LNil, oops.In("lua").With("module", i.name).Errorf("module instance is closed")
	}

	i.L.Push(fn)
	for _, a := range args {
		i.L.Push(toLua(i.L, a))
	}
	if err := i.pcall(ctx, len(args), nret); err != nil {
		return lua.LNil, oops.In("lua").With("module", i.name).Wrap(err)
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := i.L.Get(-nret)
	i.L.Pop(nret)
	return ret, nil
}

// pcall runs the function already on the stack with ctx attached to the state.
// The caller holds mu, or owns L exclusively during Load.
func (i *instance) pcall(ctx context.Context, nargs, nret int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	i.L.SetContext(ctx)
	defer i.L.RemoveContext()
	return i.L.PCall(nargs, nret, nil)
}
