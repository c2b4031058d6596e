// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package module

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// Reloader is the part of the Registry the watcher drives.
type Reloader interface {
	Reload(ctx context.Context, name string) bool
}

// Watcher reloads modules when files under the module root change.
// Every event triggers a reload; there is no debouncing.
type Watcher struct {
	root     string
	reloader Reloader
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	loopWG sync.WaitGroup
	jobsWG sync.WaitGroup
}

// NewWatcher creates a watcher for root. Call Start to begin watching.
func NewWatcher(root string, reloader Reloader, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{root: root, reloader: reloader, logger: logger}
}

// Start watches the root and its first-level subdirectories.
func (w *Watcher) Start(ctx context.Context) error {
	if w.fsw != nil {
		return oops.In("watcher").Errorf("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("watcher").Wrapf(err, "create fsnotify watcher")
	}
	if err := fsw.Add(w.root); err != nil {
		_ = fsw.Close()
		return oops.In("watcher").With("root", w.root).Wrapf(err, "watch module root")
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		_ = fsw.Close()
		return oops.In("watcher").With("root", w.root).Wrapf(err, "read module root")
	}
	for _, e := range entries {
		if e.IsDir() && validName(e.Name()) {
			w.addDir(fsw, filepath.Join(w.root, e.Name()))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel

	w.loopWG.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching modules", "root", w.root)
	return nil
}

// Stop closes the fsnotify watcher and waits for in-flight reloads.
func (w *Watcher) Stop() error {
	if w.fsw == nil {
		return nil
	}
	w.cancel()
	err := w.fsw.Close()
	w.loopWG.Wait()
	w.jobsWG.Wait()
	w.fsw = nil
	if err != nil {
		return oops.In("watcher").Wrap(err)
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.loopWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("module watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	name, ok := NameFor(w.root, ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(w.root) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addDir(w.fsw, ev.Name)
		}
	}

	w.logger.Debug("module change detected", "module", name, "path", ev.Name, "op", ev.Op.String())
	w.jobsWG.Add(1)
	go func() {
		defer w.jobsWG.Done()
		w.reloader.Reload(ctx, name)
	}()
}

func (w *Watcher) addDir(fsw *fsnotify.Watcher, dir string) {
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("cannot watch module directory", "dir", dir, "error", err)
	}
}

// NameFor derives the module name for a changed path: the first path segment
// below root, without a recognized extension for top-level files.
func NameFor(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	name := segments[0]
	if len(segments) == 1 {
		if s, ok := stem(name); ok {
			name = s
		}
	}
	if !validName(name) {
		return "", false
	}
	return name, true
}
