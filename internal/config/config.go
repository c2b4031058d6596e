// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

// Package config loads dyno's configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, command-line flags that were explicitly set, then environment
// variables.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/dynohq/dyno/internal/logging"
	"github.com/dynohq/dyno/internal/xdg"
)

// IPC transports.
const (
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// CodeInvalid is the oops code for every load and validation failure.
const CodeInvalid = "CONFIG_INVALID"

// Config is the full runtime configuration.
type Config struct {
	LogFormat string  `koanf:"log_format" env:"LOG_FORMAT"`
	LogLevel  string  `koanf:"log_level" env:"LOG_LEVEL"`
	Modules   Modules `koanf:"modules"`
	IPC       IPC     `koanf:"ipc"`
	Redis     Redis   `koanf:"redis"`
	Admin     Admin   `koanf:"admin"`
	Metrics   Metrics `koanf:"metrics"`
}

// Modules configures the module registry.
type Modules struct {
	Dir       string `koanf:"dir" env:"MODULES_DIR"`
	HotReload bool   `koanf:"hot_reload" env:"HOT_RELOAD"`
}

// IPC configures the messaging layer.
type IPC struct {
	Prefix         string        `koanf:"prefix" env:"IPC_PREFIX"`
	RequestTimeout time.Duration `koanf:"request_timeout" env:"IPC_REQUEST_TIMEOUT"`
	Transport      string        `koanf:"transport" env:"IPC_TRANSPORT"`
}

// Redis configures the Redis pub/sub transport.
type Redis struct {
	URI            string        `koanf:"uri" env:"REDIS_URI"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" env:"REDIS_CONNECT_TIMEOUT"`
}

// Admin configures the admin HTTP API. An empty Addr disables it.
type Admin struct {
	Addr        string   `koanf:"addr" env:"ADMIN_ADDR"`
	UserIDs     []string `koanf:"user_ids" env:"ADMIN_USER_IDS"`
	JWTSecret   string   `koanf:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	ReloadRate  float64  `koanf:"reload_rate" env:"ADMIN_RELOAD_RATE"`
	ReloadBurst int      `koanf:"reload_burst" env:"ADMIN_RELOAD_BURST"`
}

// Metrics configures the observability server. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr" env:"METRICS_ADDR"`
}

var defaults = map[string]any{
	"log_format":            logging.FormatJSON,
	"log_level":             "info",
	"modules.dir":           "./modules",
	"modules.hot_reload":    false,
	"ipc.prefix":            "dyno:ipc:",
	"ipc.request_timeout":   5 * time.Second,
	"ipc.transport":         TransportRedis,
	"redis.uri":             "redis://localhost:6379",
	"redis.connect_timeout": 30 * time.Second,
	"admin.addr":            "127.0.0.1:8080",
	"admin.user_ids":        []string{},
	"admin.jwt_secret":      "",
	"admin.reload_rate":     1.0,
	"admin.reload_burst":    5,
	"metrics.addr":          "127.0.0.1:9100",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"log-format":     "log_format",
	"log-level":      "log_level",
	"modules-dir":    "modules.dir",
	"hot-reload":     "modules.hot_reload",
	"ipc-prefix":     "ipc.prefix",
	"ipc-timeout":    "ipc.request_timeout",
	"ipc-transport":  "ipc.transport",
	"redis-uri":      "redis.uri",
	"admin-addr":     "admin.addr",
	"admin-user-ids": "admin.user_ids",
	"metrics-addr":   "metrics.addr",
}

// BindFlags registers the flags Load understands. Their defaults are only
// shown in help; unset flags never override the file or built-in defaults.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("log-format", logging.FormatJSON, "log format (json, text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("modules-dir", "./modules", "directory holding modules")
	flags.Bool("hot-reload", false, "reload modules when their files change")
	flags.String("ipc-prefix", "dyno:ipc:", "channel prefix for IPC traffic")
	flags.Duration("ipc-timeout", 5*time.Second, "default IPC request timeout")
	flags.String("ipc-transport", TransportRedis, "IPC transport (redis, memory)")
	flags.String("redis-uri", "redis://localhost:6379", "Redis URI for the IPC transport")
	flags.String("admin-addr", "127.0.0.1:8080", "admin API listen address (empty disables)")
	flags.StringSlice("admin-user-ids", nil, "user ids allowed to use the admin API")
	flags.String("metrics-addr", "127.0.0.1:9100", "metrics listen address (empty disables)")
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is the YAML file. When empty the XDG default is used if it exists.
	Path string
	// Flags are consulted for explicitly set flags bound with BindFlags.
	Flags *pflag.FlagSet
	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// Load builds a Config from every source and validates it.
func Load(opts LoadOptions) (*Config, error) {
	errb := oops.In("config").Code(CodeInvalid)
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, errb.With("key", key).Wrap(err)
		}
	}

	path, required := opts.Path, true
	if path == "" {
		required = false
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" && (required || exists(path)) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errb.With("path", path).Wrapf(err, "read config file")
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, errb.Wrapf(err, "read flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errb.Wrapf(err, "decode config")
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: opts.Environment}); err != nil {
		return nil, errb.Wrapf(err, "parse environment")
	}
	cfg.Admin.UserIDs = cleanIDs(cfg.Admin.UserIDs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	errb := oops.In("config").Code(CodeInvalid)
	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatText:
	default:
		return errb.With("log_format", c.LogFormat).Errorf("log_format must be json or text")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errb.With("log_level", c.LogLevel).Errorf("log_level must be debug, info, warn or error")
	}
	if c.Modules.Dir == "" {
		return errb.Errorf("modules.dir is required")
	}
	if c.IPC.Prefix == "" {
		return errb.Errorf("ipc.prefix is required")
	}
	if c.IPC.RequestTimeout <= 0 {
		return errb.With("request_timeout", c.IPC.RequestTimeout).Errorf("ipc.request_timeout must be positive")
	}
	switch c.IPC.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.Redis.URI == "" {
			return errb.Errorf("redis.uri is required for the redis transport")
		}
		if c.Redis.ConnectTimeout <= 0 {
			return errb.With("connect_timeout", c.Redis.ConnectTimeout).Errorf("redis.connect_timeout must be positive")
		}
	default:
		return errb.With("transport", c.IPC.Transport).Errorf("ipc.transport must be redis or memory")
	}
	if c.Admin.Addr != "" {
		if len(c.Admin.UserIDs) > 0 && c.Admin.JWTSecret == "" {
			return errb.Errorf("admin.jwt_secret is required when admin.user_ids is set")
		}
		if c.Admin.ReloadRate <= 0 || c.Admin.ReloadBurst <= 0 {
			return errb.Errorf("admin.reload_rate and admin.reload_burst must be positive")
		}
	}
	return nil
}
