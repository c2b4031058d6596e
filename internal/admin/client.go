// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/dynohq/dyno/internal/module"
)

// Client calls a running admin API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a client for the server at addr ("host:port" or a URL).
func NewClient(addr, token string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimSuffix(base, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Reload reloads name on the server, or on every replica when cluster is set.
func (c *Client) Reload(ctx context.Context, name string, cluster bool) (ReloadResponse, error) {
	path := "/api/admin/modules/" + url.PathEscape(name) + "/reload"
	if cluster {
		path += "?scope=" + ScopeCluster
	}
	var out ReloadResponse
	status, err := c.do(ctx, http.MethodPost, path, nil, &out)
	if err != nil {
		return out, err
	}
	if status == http.StatusInternalServerError {
		return out, oops.In("admin").With("module", name).Errorf("reload of %s failed on the server", name)
	}
	return out, nil
}

// List returns the server's active modules.
func (c *Client) List(ctx context.Context) (ListResponse, error) {
	var out ListResponse
	_, err := c.do(ctx, http.MethodGet, "/api/admin/modules", nil, &out)
	return out, err
}

// Install asks the server to install the module directory at path. The path
// is resolved on the server's filesystem.
func (c *Client) Install(ctx context.Context, path string) (module.Info, error) {
	var out module.Info
	_, err := c.do(ctx, http.MethodPost, "/api/admin/modules/install", InstallRequest{Path: path}, &out)
	return out, err
}

// Uninstall asks the server to unload and remove name.
func (c *Client) Uninstall(ctx context.Context, name string) (bool, error) {
	var out UninstallResponse
	_, err := c.do(ctx, http.MethodDelete, "/api/admin/modules/"+url.PathEscape(name), nil, &out)
	return out.Removed, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	errb := oops.In("admin").With("method", method).With("path", path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errb.Wrap(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, errb.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, errb.Hint("is dyno serve running?").Wrap(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, errb.Wrap(err)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp.StatusCode, errb.With("status", resp.StatusCode).
			Errorf("%s: %s", http.StatusText(resp.StatusCode), strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, errb.Wrap(fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}
