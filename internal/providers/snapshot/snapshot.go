package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/store"
)

const defaultSource = "rscript"

var ErrNoSnapshot = errors.New("snapshot: fewer than two years stored")

type Config struct {
	Store store.Store
	// Source is the provider name the tables were collected under.
	Source string
}

// Provider serves tables previously collected into a store.
type Provider struct {
	store  store.Store
	source string
}

func New(s store.Store) *Provider {
	return NewWithConfig(Config{Store: s})
}

func NewWithConfig(config Config) *Provider {
	if config.Store == nil {
		config.Store = &store.NopStore{}
	}
	if config.Source == "" {
		config.Source = defaultSource
	}
	return &Provider{store: config.Store, source: config.Source}
}

func (p *Provider) Name() string {
	return "snapshot"
}

// StoredYears lists the end years with a stored tidy table, ascending. The
// list may have gaps; AvailableYears only reports its bounds.
func (p *Provider) StoredYears(ctx context.Context) ([]int, error) {
	return p.store.ListYears(ctx, p.source, true)
}

// AvailableYears spans the stored tidy tables.
func (p *Provider) AvailableYears(ctx context.Context) (model.AvailableYears, error) {
	years, err := p.StoredYears(ctx)
	if err != nil {
		return model.AvailableYears{}, err
	}
	if len(years) < 2 {
		return model.AvailableYears{}, ErrNoSnapshot
	}
	return model.AvailableYears{MinYear: years[0], MaxYear: years[len(years)-1]}, nil
}

func (p *Provider) FetchEnrollment(ctx context.Context, year int, opts providers.FetchOptions) (model.Table, error) {
	key := store.TableKey{Provider: p.source, EndYear: year, Tidy: opts.Tidy}
	table, _, err := p.store.LoadTable(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return model.Table{}, fmt.Errorf("%w: %s not in snapshot", providers.ErrYearUnavailable, key)
	}
	if err != nil {
		return model.Table{}, err
	}
	return table, nil
}

func (p *Provider) TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error) {
	_ = ctx
	_ = raw
	return model.Table{}, providers.ErrTidyUnsupported
}

var _ providers.Provider = (*Provider)(nil)
