// Package rischooldata reads Rhode Island school enrollment data by calling
// the rischooldata R package. It adds no data logic of its own: the R package
// downloads, caches and reshapes the data, and this package checks years,
// forwards calls and hands back the resulting tables.
package rischooldata

import (
	"context"
	"sync"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/providers/remote"
	"github.com/almartin82/rischooldata/internal/providers/rscript"
)

// Version is overridden at build time via -ldflags.
var Version = "0.1.0"

type (
	Table            = model.Table
	EnrollmentRecord = model.EnrollmentRecord
	AvailableYears   = model.AvailableYears
	Provider         = providers.Provider
	RscriptConfig    = rscript.Config
	RemoteConfig     = remote.Config
)

// NewRscriptProvider builds the provider backed by a local R installation.
func NewRscriptProvider(config RscriptConfig) (Provider, error) {
	provider, err := rscript.NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// NewRemoteProvider builds a provider that reads from another rischooldata
// server, for hosts without R.
func NewRemoteProvider(config RemoteConfig) (Provider, error) {
	provider, err := remote.NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	return provider, nil
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
	defaultErr    error
)

// Default returns a process-wide client using the rscript provider with its
// default configuration.
func Default() (*Client, error) {
	defaultOnce.Do(func() {
		provider, err := rscript.New()
		if err != nil {
			defaultErr = err
			return
		}
		defaultClient = New(provider)
	})
	return defaultClient, defaultErr
}

func GetAvailableYears(ctx context.Context) (AvailableYears, error) {
	c, err := Default()
	if err != nil {
		return AvailableYears{}, err
	}
	return c.GetAvailableYears(ctx)
}

func FetchEnr(ctx context.Context, endYear int) (Table, error) {
	c, err := Default()
	if err != nil {
		return Table{}, err
	}
	return c.FetchEnr(ctx, endYear)
}

func FetchEnrMulti(ctx context.Context, endYears []int) (Table, error) {
	c, err := Default()
	if err != nil {
		return Table{}, err
	}
	return c.FetchEnrMulti(ctx, endYears)
}

func TidyEnr(ctx context.Context, raw Table) (Table, error) {
	c, err := Default()
	if err != nil {
		return Table{}, err
	}
	return c.TidyEnr(ctx, raw)
}
