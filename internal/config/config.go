// Package config loads sqlexplorer settings.
//
// Sources are layered, later ones winning: built-in defaults, the YAML
// file (sqlexplorer.yaml in the working directory, or --config), SQLEXPLORER_
// environment variables with "__" separating sections
// (SQLEXPLORER_SERVER__ADDR), then flags the user actually set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/koustreak/sqlexplorer/internal/client"
	"github.com/koustreak/sqlexplorer/internal/filestore"
	"github.com/koustreak/sqlexplorer/internal/logger"
	"github.com/koustreak/sqlexplorer/internal/registry"
	"github.com/koustreak/sqlexplorer/internal/server"
	"github.com/koustreak/sqlexplorer/internal/task"
)

// EnvPrefix marks environment variables read as configuration.
const EnvPrefix = "SQLEXPLORER_"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "sqlexplorer.yaml"

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServerConfig struct {
	Addr        string        `koanf:"addr"`
	BasePath    string        `koanf:"base_path"`
	Token       string        `koanf:"token"`
	PollWait    time.Duration `koanf:"poll_wait"`
	MaxTasks    int64         `koanf:"max_tasks"`
	ResultTTL   time.Duration `koanf:"result_ttl"`
	CORSOrigins []string      `koanf:"cors_origins"`
	RateLimit   float64       `koanf:"rate_limit"`
	RateBurst   int           `koanf:"rate_burst"`
}

type RegistryConfig struct {
	File      string `koanf:"file"`
	DataDir   string `koanf:"data_dir"`
	EnvPrefix string `koanf:"env_prefix"`
}

type CommentsConfig struct {
	// Path of the SQLite comment database. Empty disables comments.
	Path string `koanf:"path"`
}

type ClientConfig struct {
	URL      string        `koanf:"url"`
	Token    string        `koanf:"token"`
	Timeout  time.Duration `koanf:"timeout"`
	RetryMax int           `koanf:"retry_max"`
}

type ExportConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
}

// Config holds every section.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Server   ServerConfig   `koanf:"server"`
	Registry RegistryConfig `koanf:"registry"`
	Comments CommentsConfig `koanf:"comments"`
	Client   ClientConfig   `koanf:"client"`
	Export   ExportConfig   `koanf:"export"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// flagKeys maps flag names to config keys. Flags not listed are not
// configuration.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"server":       "client.url",
	"token":        "client.token",
	"timeout":      "client.timeout",
	"addr":         "server.addr",
	"base-path":    "server.base_path",
	"server-token": "server.token",
	"max-tasks":    "server.max_tasks",
	"cors-origin":  "server.cors_origins",
	"rate-limit":   "server.rate_limit",
	"registry":     "registry.file",
	"data-dir":     "registry.data_dir",
	"comments-db":  "comments.path",
}

func defaults() map[string]any {
	reg := registry.DefaultConfig()
	srv := server.DefaultConfig()
	tasks := task.DefaultConfig()
	cl := client.DefaultConfig()
	lg := logger.DefaultConfig()

	return map[string]any{
		"log.level":  lg.Level,
		"log.format": "console",

		"server.addr":       srv.Addr,
		"server.base_path":  srv.BasePath,
		"server.poll_wait":  srv.PollWait,
		"server.max_tasks":  tasks.MaxRunning,
		"server.result_ttl": tasks.ResultTTL,
		"server.rate_burst": 20,

		"registry.file":       reg.File,
		"registry.data_dir":   reg.DataDir,
		"registry.env_prefix": reg.EnvPrefix,

		"comments.path": filepath.Join(reg.DataDir, "comments.db"),

		"client.url":       cl.BaseURL,
		"client.timeout":   2 * time.Minute,
		"client.retry_max": cl.RetryMax,

		"export.bucket": "sqlexplorer",
	}
}

// Load reads configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path = findFile(path)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// SQLEXPLORER_SERVER__POLL_WAIT -> server.poll_wait
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = path
	return &cfg, nil
}

func findFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultFile, "sqlexplorer.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// --- per-package settings ---

func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

func (c *Config) ServerConfig() *server.Config {
	sc := server.DefaultConfig()
	sc.Addr = c.Server.Addr
	sc.BasePath = c.Server.BasePath
	sc.Token = c.Server.Token
	sc.PollWait = c.Server.PollWait
	sc.CORSOrigins = c.Server.CORSOrigins
	sc.RateLimit = c.Server.RateLimit
	sc.RateBurst = c.Server.RateBurst
	return sc
}

func (c *Config) TaskConfig() *task.Config {
	tc := task.DefaultConfig()
	if c.Server.MaxTasks > 0 {
		tc.MaxRunning = c.Server.MaxTasks
	}
	if c.Server.PollWait > 0 {
		tc.WaitTimeout = c.Server.PollWait
	}
	if c.Server.ResultTTL > 0 {
		tc.ResultTTL = c.Server.ResultTTL
	}
	return tc
}

func (c *Config) RegistryConfig() *registry.Config {
	return &registry.Config{
		File:      c.Registry.File,
		DataDir:   c.Registry.DataDir,
		EnvPrefix: c.Registry.EnvPrefix,
	}
}

func (c *Config) ClientConfig() *client.Config {
	return &client.Config{
		BaseURL:  c.Client.URL,
		Token:    c.Client.Token,
		Timeout:  c.Client.Timeout,
		RetryMax: c.Client.RetryMax,
	}
}

// ExportConfig returns the object store settings. Export is disabled when
// no endpoint is configured.
func (c *Config) ExportConfig() *filestore.Config {
	fc := filestore.DefaultConfig(c.Export.Endpoint, c.Export.AccessKey, c.Export.SecretKey)
	fc.UseSSL = c.Export.UseSSL
	fc.Region = c.Export.Region
	if c.Export.Bucket != "" {
		fc.Bucket = c.Export.Bucket
	}
	return fc
}
