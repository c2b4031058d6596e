// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package modsync keeps modules in step across replicas. A reload triggered
// on one replica is carried to the others over the ipc layer.
package modsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/ipc"
	"github.com/dynohq/dyno/internal/module"
)

// IPC topics handled by every replica.
const (
	TopicReload = "modules.reload"
	TopicList   = "modules.list"
)

// Registry is the part of module.Registry the coordinator drives.
type Registry interface {
	Reload(ctx context.Context, name string) bool
	List() []*module.Handle
}

// ReloadRequest asks a replica to reload one module.
type ReloadRequest struct {
	Name string `json:"name"`
}

// ReloadResult is a replica's answer to a ReloadRequest.
type ReloadResult struct {
	Name     string `json:"name"`
	Reloaded bool   `json:"reloaded"`
	Instance string `json:"instance"`
}

// ListResult is a replica's active module list.
type ListResult struct {
	Instance string        `json:"instance"`
	Modules  []module.Info `json:"modules"`
}

// Coordinator answers module requests from other replicas and sends its own.
type Coordinator struct {
	ipc      *ipc.Manager
	registry Registry
	instance string
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInstance sets the replica id reported in answers.
func WithInstance(id string) Option {
	return func(c *Coordinator) {
		c.instance = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator creates a coordinator. Call Start to begin answering.
func NewCoordinator(m *ipc.Manager, registry Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		ipc:      m,
		registry: registry,
		instance: defaultInstance(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Instance returns the replica id.
func (c *Coordinator) Instance() string {
	return c.instance
}

// Start installs the reload and list handlers.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.ipc.On(ctx, TopicReload, c.handleReload); err != nil {
		return oops.In("modsync").With("topic", TopicReload).Wrap(err)
	}
	if err := c.ipc.On(ctx, TopicList, c.handleList); err != nil {
		return oops.In("modsync").With("topic", TopicList).Wrap(err)
	}
	return nil
}

func (c *Coordinator) handleReload(ctx context.Context, payload json.RawMessage, meta ipc.Meta) (any, error) {
	var req ReloadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, oops.In("modsync").With("request_id", meta.ID).Wrapf(err, "decode reload request")
	}
	if req.Name == "" {
		return nil, oops.In("modsync").With("request_id", meta.ID).Errorf("reload request without module name")
	}

	reloaded := c.registry.Reload(ctx, req.Name)
	c.logger.InfoContext(ctx, "module reload requested by peer",
		"module", req.Name,
		"reloaded", reloaded,
		"request_id", meta.ID)
	return ReloadResult{Name: req.Name, Reloaded: reloaded, Instance: c.instance}, nil
}

func (c *Coordinator) handleList(_ context.Context, _ json.RawMessage, _ ipc.Meta) (any, error) {
	handles := c.registry.List()
	infos := make([]module.Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	return ListResult{Instance: c.instance, Modules: infos}, nil
}

// ReloadEverywhere broadcasts a reload of name to every replica, this one
// included. It does not wait for the reloads to finish.
func (c *Coordinator) ReloadEverywhere(ctx context.Context, name string) error {
	if err := c.ipc.Publish(ctx, TopicReload, ReloadRequest{Name: name}); err != nil {
		return oops.In("modsync").With("module", name).Wrap(err)
	}
	return nil
}

// ReloadVia asks the replicas to reload name and returns the first answer.
func (c *Coordinator) ReloadVia(ctx context.Context, name string, timeout time.Duration) (ReloadResult, error) {
	return ipc.Call[ReloadResult](ctx, c.ipc, TopicReload, ReloadRequest{Name: name}, timeout)
}

// ListVia returns the module list of the first replica to answer.
func (c *Coordinator) ListVia(ctx context.Context, timeout time.Duration) (ListResult, error) {
	return ipc.Call[ListResult](ctx, c.ipc, TopicList, struct{}{}, timeout)
}
