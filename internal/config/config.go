// Package config loads application settings from defaults, an optional
// config file and RISCHOOLDATA_* environment variables, and validates them
// on startup so misconfiguration fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig selects where enrollment data comes from.
type ProviderConfig struct {
	// Name is rscript, snapshot or remote (default: rscript)
	Name string `mapstructure:"name"`

	// RscriptPath is the Rscript binary, looked up on PATH (default: Rscript)
	RscriptPath string `mapstructure:"rscript_path"`

	// Package is the R package to call (default: rischooldata)
	Package string `mapstructure:"package"`

	// Timeout bounds each Rscript call (default: 10m)
	Timeout time.Duration `mapstructure:"timeout"`

	// UseCache lets the R package reuse its own download cache (default: true)
	UseCache bool `mapstructure:"use_cache"`

	// LibPaths are prepended to the R library search path
	LibPaths []string `mapstructure:"lib_paths"`

	// RemoteURL is the base URL of another rischooldata server, for the remote provider
	RemoteURL string `mapstructure:"remote_url"`

	// RemoteAPIKey is sent in the X-API-Key header when set
	RemoteAPIKey string `mapstructure:"remote_api_key"`

	// RemoteRateLimit caps requests per second; negative disables it (default: 5)
	RemoteRateLimit int `mapstructure:"remote_rate_limit"`

	// RemoteMaxRetries bounds retries on 429 and 503 responses (default: 2)
	RemoteMaxRetries int `mapstructure:"remote_max_retries"`

	// SnapshotSource names the provider whose stored tables the snapshot
	// provider reads (default: rscript)
	SnapshotSource string `mapstructure:"snapshot_source"`
}

// StoreConfig selects the table store used for caching and snapshots.
type StoreConfig struct {
	// Backend is sqlite, postgres or redis (default: sqlite)
	Backend string `mapstructure:"backend"`

	SQLitePath string `mapstructure:"sqlite_path"`

	PostgresURL      string `mapstructure:"postgres_url"`
	PostgresMaxConns int    `mapstructure:"postgres_max_conns"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// CacheConfig controls the client's read-through cache.
type CacheConfig struct {
	// Enabled stores fetched tables and serves repeats from the store (default: false)
	Enabled bool `mapstructure:"enabled"`

	// Refresh ignores cached tables and overwrites them (default: false)
	Refresh bool `mapstructure:"refresh"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `mapstructure:"level"`

	// Format is text or json (default: text)
	Format string `mapstructure:"format"`
}

// Addr returns the server listen address in host:port format.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Name:        "rscript",
			RscriptPath: "Rscript",
			Package:     "rischooldata",
			Timeout:     10 * time.Minute,
			UseCache:    true,
			LibPaths:    []string{},

			RemoteRateLimit:  5,
			RemoteMaxRetries: 2,
			SnapshotSource:   "rscript",
		},
		Store: StoreConfig{
			Backend:          "sqlite",
			SQLitePath:       "rischooldata.db",
			PostgresMaxConns: 4,
			RedisPrefix:      "rischooldata",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  11 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
