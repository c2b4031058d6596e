// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package admin serves the administrative HTTP API: reloading, listing,
// installing and removing modules at runtime.
//
// Every route requires an HS256 bearer token whose subject is listed in the
// configured admin user ids.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/module"
	"github.com/dynohq/dyno/pkg/errutil"
)

// Modules is the registry view the API drives.
type Modules interface {
	Reload(ctx context.Context, name string) bool
	List() []*module.Handle
}

// Cluster fans a reload out to every replica.
type Cluster interface {
	ReloadEverywhere(ctx context.Context, name string) error
}

// Installer places and removes module directories.
type Installer interface {
	Install(ctx context.Context, srcDir string) (*module.Handle, error)
	Uninstall(ctx context.Context, name string) (bool, error)
}

// Config configures the admin server.
type Config struct {
	Addr        string
	AdminIDs    []string
	Secret      []byte
	ReloadRate  float64
	ReloadBurst int
}

// ReloadResponse is returned by the reload route.
type ReloadResponse struct {
	Reloaded bool   `json:"reloaded"`
	Scope    string `json:"scope,omitempty"`
}

// ListResponse is returned by the list route.
type ListResponse struct {
	Modules []module.Info `json:"modules"`
}

// InstallRequest names a local directory holding a fetched module.
type InstallRequest struct {
	Path string `json:"path"`
}

// UninstallResponse is returned by the delete route.
type UninstallResponse struct {
	Removed bool `json:"removed"`
}

// Reload scopes.
const (
	ScopeLocal   = "local"
	ScopeCluster = "cluster"
)

// Server is the admin HTTP server.
type Server struct {
	addr      string
	admins    []string
	secret    []byte
	modules   Modules
	cluster   Cluster
	installer Installer
	limiter   *limiter
	logger    *slog.Logger

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithCluster enables ?scope=cluster reloads.
func WithCluster(c Cluster) Option {
	return func(s *Server) {
		s.cluster = c
	}
}

// WithInstaller enables the install and delete routes.
func WithInstaller(i Installer) Option {
	return func(s *Server) {
		s.installer = i
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates an admin server.
func NewServer(cfg Config, modules Modules, opts ...Option) *Server {
	ratePerSec := cfg.ReloadRate
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	burst := cfg.ReloadBurst
	if burst <= 0 {
		burst = 5
	}
	s := &Server{
		addr:    cfg.Addr,
		admins:  append([]string(nil), cfg.AdminIDs...),
		secret:  append([]byte(nil), cfg.Secret...),
		modules: modules,
		limiter: newLimiter(ratePerSec, burst),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, authenticated API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/modules", s.handleList)
	mux.HandleFunc("POST /api/admin/modules/{name}/reload", s.rateLimited(s.handleReload))
	mux.HandleFunc("POST /api/admin/modules/install", s.rateLimited(s.handleInstall))
	mux.HandleFunc("DELETE /api/admin/modules/{name}", s.handleUninstall)
	return s.authenticate(mux)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx := r.Context()

	switch scope := r.URL.Query().Get("scope"); scope {
	case "", ScopeLocal:
		ok := s.modules.Reload(ctx, name)
		s.logger.InfoContext(ctx, "admin reload", "module", name, "reloaded", ok, "user_id", UserID(ctx))
		status := http.StatusOK
		if !ok {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, ReloadResponse{Reloaded: ok})
	case ScopeCluster:
		if s.cluster == nil {
			http.Error(w, "cluster reload unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := s.cluster.ReloadEverywhere(ctx, name); err != nil {
			errutil.Log(ctx, s.logger, slog.LevelError, "cluster reload failed", err, "module", name)
			writeJSON(w, http.StatusInternalServerError, ReloadResponse{Reloaded: false, Scope: ScopeCluster})
			return
		}
		s.logger.InfoContext(ctx, "admin cluster reload", "module", name, "user_id", UserID(ctx))
		writeJSON(w, http.StatusAccepted, ReloadResponse{Reloaded: true, Scope: ScopeCluster})
	default:
		http.Error(w, "unknown scope", http.StatusBadRequest)
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	handles := s.modules.List()
	infos := make([]module.Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	writeJSON(w, http.StatusOK, ListResponse{Modules: infos})
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if s.installer == nil {
		http.Error(w, "installer unavailable", http.StatusServiceUnavailable)
		return
	}
	var req InstallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "expected {\"path\": \"<module directory>\"}", http.StatusBadRequest)
		return
	}

	h, err := s.installer.Install(r.Context(), req.Path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, h.Info())
	case errors.Is(err, module.ErrExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, module.ErrLoadFailed), errors.Is(err, module.ErrNotFound), errutil.Code(err) == module.CodeInvalidName:
		errutil.LogWarn(s.logger, "module install rejected", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		errutil.LogError(s.logger, "module install failed", err)
		http.Error(w, "install failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	if s.installer == nil {
		http.Error(w, "installer unavailable", http.StatusServiceUnavailable)
		return
	}
	removed, err := s.installer.Uninstall(r.Context(), r.PathValue("name"))
	if err != nil && !errors.Is(err, module.ErrNotFound) {
		errutil.LogError(s.logger, "module uninstall failed", err)
		http.Error(w, "uninstall failed", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !removed {
		status = http.StatusNotFound
	}
	writeJSON(w, status, UninstallResponse{Removed: removed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

// Start begins serving. Serve errors arrive on the returned channel, which is
// closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("admin").Errorf("admin server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("admin").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("admin server started", "addr", listener.Addr().String(), "admins", len(s.admins))
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.In("admin").With("operation", "shutdown_admin_server").Wrap(err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
