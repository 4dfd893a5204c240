package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "RISCHOOLDATA"
	ConfigFileName = "rischooldata"
)

// Load reads configuration in increasing precedence: defaults, the config
// file, then environment variables. An explicit path must exist; without one
// a rischooldata.{yaml,toml,json} in the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.rscript_path", d.Provider.RscriptPath)
	v.SetDefault("provider.package", d.Provider.Package)
	v.SetDefault("provider.timeout", d.Provider.Timeout)
	v.SetDefault("provider.use_cache", d.Provider.UseCache)
	v.SetDefault("provider.lib_paths", d.Provider.LibPaths)
	v.SetDefault("provider.remote_url", d.Provider.RemoteURL)
	v.SetDefault("provider.remote_api_key", d.Provider.RemoteAPIKey)
	v.SetDefault("provider.remote_rate_limit", d.Provider.RemoteRateLimit)
	v.SetDefault("provider.remote_max_retries", d.Provider.RemoteMaxRetries)
	v.SetDefault("provider.snapshot_source", d.Provider.SnapshotSource)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.postgres_url", d.Store.PostgresURL)
	v.SetDefault("store.postgres_max_conns", d.Store.PostgresMaxConns)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)
	v.SetDefault("store.redis_prefix", d.Store.RedisPrefix)
	v.SetDefault("store.redis_ttl", d.Store.RedisTTL)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.refresh", d.Cache.Refresh)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks all settings and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Provider.Name) {
	case "rscript":
		if strings.TrimSpace(c.Provider.RscriptPath) == "" {
			errs = append(errs, "provider.rscript_path is required for the rscript provider")
		}
		if strings.TrimSpace(c.Provider.Package) == "" {
			errs = append(errs, "provider.package is required for the rscript provider")
		}
	case "snapshot":
		switch strings.ToLower(c.Provider.SnapshotSource) {
		case "rscript", "remote":
		default:
			errs = append(errs, fmt.Sprintf("provider.snapshot_source (%q) must be one of: rscript, remote", c.Provider.SnapshotSource))
		}
	case "remote":
		if strings.TrimSpace(c.Provider.RemoteURL) == "" {
			errs = append(errs, "provider.remote_url is required for the remote provider")
		} else if u, err := url.Parse(c.Provider.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("provider.remote_url (%q) must be an absolute URL", c.Provider.RemoteURL))
		}
		if c.Provider.RemoteMaxRetries < 0 {
			errs = append(errs, "provider.remote_max_retries must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.name (%q) must be one of: rscript, snapshot, remote", c.Provider.Name))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, "provider.timeout must be positive")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, "store.postgres_url is required for the postgres backend")
		}
		if c.Store.PostgresMaxConns <= 0 {
			errs = append(errs, "store.postgres_max_conns must be positive")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for the redis backend")
		}
		if c.Store.RedisTTL < 0 {
			errs = append(errs, "store.redis_ttl must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend (%q) must be one of: sqlite, postgres, redis", c.Store.Backend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		errs = append(errs, "server timeouts must be non-negative")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a representation safe for logging; credentials are masked.
func (c *Config) String() string {
	return fmt.Sprintf("provider=%s remote_url=%s store=%s postgres_url=%s redis_addr=%s cache=%t server=%s log=%s/%s",
		c.Provider.Name, maskURL(c.Provider.RemoteURL), c.Store.Backend, maskURL(c.Store.PostgresURL), c.Store.RedisAddr,
		c.Cache.Enabled, c.Server.Addr(), c.Logging.Level, c.Logging.Format)
}

func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
