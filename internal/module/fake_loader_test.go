// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynohq/dyno/internal/host"
	"github.com/dynohq/dyno/internal/module"
)

// fakeLoader builds instances whose behavior is read from the entry file.
// The file holds space-separated directives:
//
//	version=N        tag recorded in events
//	load=fail        Load returns an error
//	load=panic       Load panics
//	register=fail    every Register fails
//	register=panic   Register panics
//	register=once    first Register succeeds, later ones fail
//	unload=fail      Unload fails
//	hooks=none       no lifecycle hooks at all
type fakeLoader struct {
	kind module.Kind

	mu     sync.Mutex
	events []string
	active map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{kind: module.KindLua, active: make(map[string]int)}
}

func (l *fakeLoader) Kind() module.Kind { return l.kind }

func (l *fakeLoader) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Events returns recorded lifecycle events.
func (l *fakeLoader) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Open returns how many instances of name are not yet closed.
func (l *fakeLoader) Open(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[name]
}

func (l *fakeLoader) Load(_ context.Context, src module.Source, bot *host.Bot) (module.Instance, error) {
	data, err := os.ReadFile(src.Entry)
	if err != nil {
		return nil, err
	}
	directives := map[string]string{}
	for _, f := range strings.Fields(string(data)) {
		k, v, _ := strings.Cut(f, "=")
		directives[k] = v
	}
	tag := src.Name + "@" + directives["version"]

	switch directives["load"] {
	case "fail":
		return nil, errors.New("syntax error")
	case "panic":
		panic("loader exploded")
	}

	l.mu.Lock()
	l.active[src.Name]++
	l.mu.Unlock()
	l.record("load:" + tag)

	owner := host.NewOwner(src.Name)
	registers := 0
	inst := &module.Func{
		CloseFunc: func() error {
			bot.Release(owner)
			l.mu.Lock()
			l.active[src.Name]--
			l.mu.Unlock()
			l.record("close:" + tag)
			return nil
		},
	}
	if directives["hooks"] == "none" {
		return inst, nil
	}

	inst.RegisterFunc = func(context.Context) error {
		registers++
		l.record("register:" + tag)
		switch directives["register"] {
		case "fail":
			return fmt.Errorf("register %s failed", tag)
		case "panic":
			panic("register exploded")
		case "once":
			if registers > 1 {
				return fmt.Errorf("register %s failed again", tag)
			}
		}
		return bot.RegisterCommand(owner, host.Command{
			Name:        src.Name,
			Description: tag,
			Execute: func(context.Context, host.Invocation) (string, error) {
				return tag, nil
			},
		})
	}
	inst.UnloadFunc = func(context.Context) error {
		l.record("unload:" + tag)
		if directives["unload"] == "fail" {
			return errors.New("unload failed")
		}
		return nil
	}
	return inst, nil
}

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o750))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	mkdirAll(t, filepath.Dir(path))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

type fixture struct {
	root     string
	bot      *host.Bot
	loader   *fakeLoader
	registry *module.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	bot := host.New()
	loader := newFakeLoader()
	reg := module.NewRegistry(root, bot, module.WithLoader(loader))
	return &fixture{root: root, bot: bot, loader: loader, registry: reg}
}

// describe returns the description of the command registered under name,
// which carries the version tag of the instance that registered it.
func (f *fixture) describe(name string) string {
	cmd, ok := f.bot.Command(name)
	if !ok {
		return ""
	}
	return cmd.Description
}

// blockingLoader parks Load for one module name until release is closed.
type blockingLoader struct {
	*fakeLoader
	block   string
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingLoader(inner *fakeLoader, block string) *blockingLoader {
	return &blockingLoader{
		fakeLoader: inner,
		block:      block,
		release:    make(chan struct{}),
		entered:    make(chan struct{}),
	}
}

func (l *blockingLoader) Load(ctx context.Context, src module.Source, bot *host.Bot) (module.Instance, error) {
	if src.Name == l.block {
		l.once.Do(func() { close(l.entered) })
		<-l.release
	}
	return l.fakeLoader.Load(ctx, src, bot)
}

func hostInvocation(command string) host.Invocation {
	return host.Invocation{Command: command, UserID: "u1"}
}
