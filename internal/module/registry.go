// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package module loads, hot-swaps and rolls back runtime modules.
//
// A Registry maps module names to live instances. Load replaces an instance
// in place: the new version is instantiated first, the old one is unloaded,
// and if the new one fails to register the old one is registered again.
package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module/capability"
	"github.com/dynohq/dyno/internal/observability"
	"github.com/dynohq/dyno/pkg/errutil"
)

// Registry owns every installed module. It is safe for concurrent use;
// operations on the same name are serialized.
type Registry struct {
	root     string
	bot      *host.Bot
	loaders  map[Kind]Loader
	enforcer *capability.Enforcer
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	modules map[string]*Handle

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLoader adds a loader for its Kind, replacing any previous one.
func WithLoader(l Loader) RegistryOption {
	return func(r *Registry) {
		r.loaders[l.Kind()] = l
	}
}

// WithEnforcer sets the capability enforcer that receives module grants.
func WithEnforcer(e *capability.Enforcer) RegistryOption {
	return func(r *Registry) {
		r.enforcer = e
	}
}

// WithMetrics records load outcomes.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithTracer overrides the default otel tracer.
func WithTracer(t trace.Tracer) RegistryOption {
	return func(r *Registry) {
		r.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry for modules under root, bound to bot.
func NewRegistry(root string, bot *host.Bot, opts ...RegistryOption) *Registry {
	r := &Registry{
		root:     root,
		bot:      bot,
		loaders:  make(map[Kind]Loader),
		enforcer: capability.NewEnforcer(),
		tracer:   otel.Tracer("dyno/module"),
		logger:   slog.Default(),
		now:      time.Now,
		modules:  make(map[string]*Handle),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the module root directory.
func (r *Registry) Root() string {
	return r.root
}

// Enforcer returns the capability enforcer modules are checked against.
func (r *Registry) Enforcer() *capability.Enforcer {
	return r.enforcer
}

func (r *Registry) lock(name string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Discover returns the locator for name, probing the candidates in priority order.
func (r *Registry) Discover(name string) (string, error) {
	return discover(r.root, name)
}

// Get returns the installed handle for name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.modules[name]
	return h, ok
}

// Status reports whether name is installed.
func (r *Registry) Status(name string) Status {
	if _, ok := r.Get(name); ok {
		return StatusActive
	}
	return StatusAbsent
}

// List returns installed modules sorted by name.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	out := make([]*Handle, 0, len(r.modules))
	for _, h := range r.modules {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load instantiates the module at locator and installs it under name,
// replacing any previous instance. On failure the previous instance stays
// installed unless rolling back to it also failed, in which case name is
// removed and the error wraps ErrRollbackFailed.
func (r *Registry) Load(ctx context.Context, locator, name string) (*Handle, error) {
	ctx, span := r.tracer.Start(ctx, "module.Load", trace.WithAttributes(
		attribute.String("module.name", name),
		attribute.String("module.locator", locator),
	))
	defer span.End()

	unlock := r.lock(name)
	defer unlock()

	h, err := r.load(ctx, locator, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return h, err
}

func (r *Registry) load(ctx context.Context, locator, name string) (*Handle, error) {
	src, err := ResolveSource(locator, name)
	if err != nil {
		r.metrics.RecordModuleLoad(observability.OutcomeFailed)
		return nil, loadFailed(name, "resolve", err)
	}
	loader, ok := r.loaders[src.Kind]
	if !ok {
		r.metrics.RecordModuleLoad(observability.OutcomeFailed)
		return nil, loadFailed(name, "resolve", fmt.Errorf("no loader registered for kind %q", src.Kind))
	}

	// Top-level code runs during instantiate and is checked against the
	// grants of the version being loaded.
	prev, hadPrev := r.Get(name)
	grants := src.Grants()
	r.grant(name, grants)

	inst, err := r.instantiate(ctx, loader, src)
	if err != nil {
		r.restoreGrants(name, prev)
		r.metrics.RecordModuleLoad(observability.OutcomeFailed)
		return nil, loadFailed(name, "instantiate", err)
	}

	if hadPrev {
		if err := invoke(ctx, prev.Instance.Capabilities().Unload); err != nil {
			r.metrics.RecordUnloadFailure()
			errutil.Log(ctx, r.logger, slog.LevelWarn, "module unload failed", err, "module", name)
		}
	}

	if err := invoke(ctx, inst.Capabilities().Register); err != nil {
		r.release(name, inst)
		return nil, r.rollback(ctx, name, prev, err)
	}

	h := &Handle{
		Name:     name,
		Locator:  locator,
		Kind:     src.Kind,
		Version:  src.Version(),
		Instance: inst,
		Grants:   grants,
		LoadedAt: r.now(),
	}
	r.mu.Lock()
	r.modules[name] = h
	active := len(r.modules)
	r.mu.Unlock()

	if hadPrev {
		r.release(name, prev.Instance)
	}

	r.metrics.RecordModuleLoad(observability.OutcomeSuccess)
	r.metrics.SetModulesActive(active)
	r.logger.InfoContext(ctx, "module loaded",
		"module", name,
		"kind", src.Kind,
		"locator", locator,
		"replaced", hadPrev)
	return h, nil
}

// rollback re-registers prev after the new instance failed to register.
func (r *Registry) rollback(ctx context.Context, name string, prev *Handle, cause error) error {
	r.restoreGrants(name, prev)
	if prev == nil {
		r.metrics.RecordModuleLoad(observability.OutcomeFailed)
		return loadFailed(name, "register", cause)
	}

	if err := invoke(ctx, prev.Instance.Capabilities().Register); err != nil {
		r.mu.Lock()
		delete(r.modules, name)
		active := len(r.modules)
		r.mu.Unlock()

		r.revoke(name)
		r.release(name, prev.Instance)
		r.metrics.RecordModuleLoad(observability.OutcomeRollbackFailed)
		r.metrics.SetModulesActive(active)

		rerr := rollbackFailed(name, cause, err)
		errutil.Log(ctx, r.logger, slog.LevelError, "module rollback failed", rerr, "module", name, "rollback", "failed")
		return rerr
	}

	r.metrics.RecordModuleLoad(observability.OutcomeRolledBack)
	errutil.Log(ctx, r.logger, slog.LevelWarn, "module register failed, previous version restored", cause,
		"module", name,
		"locator", prev.Locator)
	return loadFailed(name, "register", cause)
}

// Reload discovers name and loads it. It reports whether the new version is
// installed; failures are logged.
func (r *Registry) Reload(ctx context.Context, name string) bool {
	locator, err := r.Discover(name)
	if err != nil {
		r.logger.WarnContext(ctx, "module not found for reload", "module", name, "root", r.root)
		return false
	}
	if _, err := r.Load(ctx, locator, name); err != nil {
		errutil.Log(ctx, r.logger, slog.LevelError, "module reload failed", err, "module", name)
		return false
	}
	return true
}

// LoadAll loads every module under the root. Individual failures are logged
// and skipped; only an unreadable root is returned as an error.
func (r *Registry) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.WarnContext(ctx, "module root does not exist", "root", r.root)
			return nil
		}
		return oops.In("module").With("root", r.root).Wrapf(err, "read module root")
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			if !entry.Type().IsRegular() {
				continue
			}
			var ok bool
			if name, ok = stem(name); !ok {
				continue
			}
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		locator, err := r.Discover(name)
		if err != nil {
			r.logger.DebugContext(ctx, "skipping entry without module", "entry", entry.Name())
			continue
		}
		if _, err := r.Load(ctx, locator, name); err != nil {
			errutil.Log(ctx, r.logger, slog.LevelError, "failed to load module", err, "module", name)
		}
	}
	return nil
}

// Unload runs the unload hook of name and removes it. An unload hook failure
// is logged and the module is removed anyway.
func (r *Registry) Unload(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	r.mu.Lock()
	h, ok := r.modules[name]
	if ok {
		delete(r.modules, name)
	}
	active := len(r.modules)
	r.mu.Unlock()
	if !ok {
		return notFound(name)
	}

	if err := invoke(ctx, h.Instance.Capabilities().Unload); err != nil {
		r.metrics.RecordUnloadFailure()
		errutil.Log(ctx, r.logger, slog.LevelWarn, "module unload failed", err, "module", name)
	}
	r.revoke(name)
	r.release(name, h.Instance)
	r.metrics.SetModulesActive(active)
	r.logger.InfoContext(ctx, "module unloaded", "module", name)
	return nil
}

// Close unloads every module.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, h := range r.List() {
		if err := r.Unload(ctx, h.Name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) instantiate(ctx context.Context, loader Loader, src Source) (inst Instance, err error) {
	defer func() {
		if p := recover(); p != nil {
			inst, err = nil, fmt.Errorf("loader panic: %v", p)
		}
	}()
	inst, err = loader.Load(ctx, src, r.bot)
	if err == nil && inst == nil {
		err = errors.New("loader returned no instance")
	}
	return inst, err
}

// invoke runs a lifecycle hook, turning panics into errors. nil is a no-op.
func invoke(ctx context.Context, fn LifecycleFunc) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Registry) grant(name string, grants []string) {
	if err := r.enforcer.SetGrants(name, grants); err != nil {
		errutil.Log(context.Background(), r.logger, slog.LevelWarn, "invalid module grants", err, "module", name)
	}
}

// restoreGrants puts back the grants of prev, or revokes name when there is
// no previous version.
func (r *Registry) restoreGrants(name string, prev *Handle) {
	if prev == nil {
		r.revoke(name)
		return
	}
	r.grant(name, prev.Grants)
}

func (r *Registry) revoke(name string) {
	r.enforcer.RemoveGrants(name)
}

func (r *Registry) release(name string, inst Instance) {
	if err := inst.Close(); err != nil {
		errutil.Log(context.Background(), r.logger, slog.LevelWarn, "module instance close failed", err, "module", name)
	}
}
