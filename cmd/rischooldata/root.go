package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/config"
	"github.com/almartin82/rischooldata/internal/logging"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/providers/remote"
	"github.com/almartin82/rischooldata/internal/providers/rscript"
	"github.com/almartin82/rischooldata/internal/providers/snapshot"
	"github.com/almartin82/rischooldata/internal/store"
	"github.com/almartin82/rischooldata/internal/store/postgres"
	"github.com/almartin82/rischooldata/internal/store/redis"
	"github.com/almartin82/rischooldata/internal/store/sqlite"
)

var (
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

func versionString() string {
	if Commit == "unknown" {
		return rischooldata.Version
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", rischooldata.Version, Commit, BuildDate)
}

// app carries the global flags and the loaded configuration to subcommands.
type app struct {
	configPath   string
	logLevel     string
	logFormat    string
	providerName string
	storeBackend string

	cfg *config.Config

	// Replaced in tests.
	newProvider func(cfg *config.Config, st store.Store) (providers.Provider, error)
	openStore   func(ctx context.Context, cfg config.StoreConfig) (store.Store, error)
}

func newApp() *app {
	return &app{
		newProvider: buildProvider,
		openStore:   openStore,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "rischooldata",
		Short: "Rhode Island school enrollment data",
		Long: titleStyle.Render("rischooldata") + subtitleStyle.Render(" - Rhode Island school enrollment data") + `

Fetches enrollment tables from the rischooldata R package, which downloads
and reshapes data published by the Rhode Island Department of Education.
Tables can be printed, exported, collected into a store and served over HTTP.

` + subtitleStyle.Render("Examples:") + `
  rischooldata years                     Show the available end years
  rischooldata fetch 2024 --format table Print the 2024 tidy table
  rischooldata fetch 2020 2021 -o e.xlsx Write two years to a spreadsheet
  rischooldata collect --all             Store every available year
  rischooldata serve                     Serve the API on :8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is ./rischooldata.{yaml,toml,json})")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text, json")
	flags.StringVar(&a.providerName, "provider", "", "data provider: rscript, snapshot, remote")
	flags.StringVar(&a.storeBackend, "store", "", "table store: sqlite, postgres, redis")

	root.AddCommand(
		newYearsCmd(a),
		newFetchCmd(a),
		newTidyCmd(a),
		newCollectCmd(a),
		newExportCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads configuration, applies flag overrides and sets up logging.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &ExitError{Code: exitInvalidInput, Err: err}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	if flags.Changed("provider") {
		cfg.Provider.Name = a.providerName
	}
	if flags.Changed("store") {
		cfg.Store.Backend = a.storeBackend
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: exitInvalidInput, Err: err}
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())
	a.cfg = cfg
	return nil
}

// needsStore reports whether the configured client reads or writes a store.
func (a *app) needsStore() bool {
	return a.cfg.Cache.Enabled || strings.EqualFold(a.cfg.Provider.Name, "snapshot")
}

// client builds the accessor. The returned close func releases the provider
// and the store.
func (a *app) client(ctx context.Context, refresh bool) (*rischooldata.Client, func(), error) {
	var st store.Store
	closeStore := func() {}
	if a.needsStore() {
		opened, err := a.openStore(ctx, a.cfg.Store)
		if err != nil {
			return nil, nil, err
		}
		st = opened
		closeStore = func() { _ = opened.Close() }
	}

	provider, err := a.newProvider(a.cfg, st)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	opts := []rischooldata.Option{
		rischooldata.WithLogger(slog.Default()),
		rischooldata.WithRefresh(refresh || a.cfg.Cache.Refresh),
	}
	if a.cfg.Cache.Enabled && st != nil {
		opts = append(opts, rischooldata.WithStore(st))
	}
	release := func() {
		closeProvider(provider)
		closeStore()
	}
	return rischooldata.New(provider, opts...), release, nil
}

// closeProvider releases providers that hold background resources, such as
// the remote provider's rate limiter.
func closeProvider(provider providers.Provider) {
	if closer, ok := provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("close provider", "provider", provider.Name(), "error", err)
		}
	}
}

func buildProvider(cfg *config.Config, st store.Store) (providers.Provider, error) {
	switch strings.ToLower(cfg.Provider.Name) {
	case "snapshot":
		return snapshot.NewWithConfig(snapshot.Config{
			Store:  st,
			Source: strings.ToLower(cfg.Provider.SnapshotSource),
		}), nil
	case "remote":
		provider, err := remote.NewWithConfig(remote.Config{
			BaseURL:         cfg.Provider.RemoteURL,
			APIKey:          cfg.Provider.RemoteAPIKey,
			RateLimitPerSec: cfg.Provider.RemoteRateLimit,
			MaxRetries:      cfg.Provider.RemoteMaxRetries,
			Timeout:         cfg.Provider.Timeout,
			Logger:          slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "rscript":
		provider, err := rscript.NewWithConfig(rscript.Config{
			RscriptPath:  cfg.Provider.RscriptPath,
			Package:      cfg.Provider.Package,
			LibPaths:     cfg.Provider.LibPaths,
			Timeout:      cfg.Provider.Timeout,
			DisableCache: !cfg.Provider.UseCache,
			Logger:       slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		if !provider.Available() {
			return nil, fmt.Errorf("%w: %s", rscript.ErrRscriptNotFound, cfg.Provider.RscriptPath)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider.Name)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			URL:      cfg.PostgresURL,
			MaxConns: cfg.PostgresMaxConns,
		})
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}
