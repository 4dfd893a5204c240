package rischooldata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/store"
)

// Client forwards requests to a provider, checking years against the
// provider's live range and the tables it returns against the year asked for.
// A Client is safe for concurrent use.
type Client struct {
	provider providers.Provider
	store    store.Store
	logger   *slog.Logger
	refresh  bool
	// strictStore turns store save failures into fetch errors.
	strictStore bool
	group       singleflight.Group
}

func New(provider providers.Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("provider", provider.Name())
	return c
}

func (c *Client) Provider() providers.Provider {
	return c.provider
}

// GetAvailableYears asks the provider for its range on every call.
func (c *Client) GetAvailableYears(ctx context.Context) (model.AvailableYears, error) {
	years, err := c.provider.AvailableYears(ctx)
	if err != nil {
		return model.AvailableYears{}, fmt.Errorf("rischooldata: get_available_years: %w", err)
	}
	if err := years.Validate(); err != nil {
		return model.AvailableYears{}, fmt.Errorf("%w: %s", ErrInvalidYearRange, years)
	}
	return years, nil
}

// FetchEnr returns the tidy enrollment table for one school year, identified
// by the calendar year in which it ends.
func (c *Client) FetchEnr(ctx context.Context, endYear int) (model.Table, error) {
	available, err := c.GetAvailableYears(ctx)
	if err != nil {
		return model.Table{}, err
	}
	if err := checkYear(endYear, available); err != nil {
		return model.Table{}, err
	}
	return c.fetchYear(ctx, endYear, true)
}

// FetchRaw is FetchEnr without the tidy transform.
func (c *Client) FetchRaw(ctx context.Context, endYear int) (model.Table, error) {
	available, err := c.GetAvailableYears(ctx)
	if err != nil {
		return model.Table{}, err
	}
	if err := checkYear(endYear, available); err != nil {
		return model.Table{}, err
	}
	return c.fetchYear(ctx, endYear, false)
}

// FetchEnrMulti concatenates the tidy tables of several years in request
// order, one table per entry. Every year is checked before anything is
// fetched and any failure fails the whole call. A repeated year is fetched
// once and appended again at each position it was asked for.
func (c *Client) FetchEnrMulti(ctx context.Context, endYears []int) (model.Table, error) {
	if len(endYears) == 0 {
		return model.Table{}, ErrEmptyYears
	}
	available, err := c.GetAvailableYears(ctx)
	if err != nil {
		return model.Table{}, err
	}
	for _, year := range endYears {
		if err := checkYear(year, available); err != nil {
			return model.Table{}, err
		}
	}

	fetched := make(map[int]model.Table, len(endYears))
	tables := make([]model.Table, 0, len(endYears))
	for _, year := range endYears {
		table, ok := fetched[year]
		if !ok {
			table, err = c.fetchYear(ctx, year, true)
			if err != nil {
				return model.Table{}, err
			}
			fetched[year] = table
		}
		tables = append(tables, table)
	}
	return model.Concat(tables...), nil
}

// TidyEnr converts a raw wide table to the long format.
func (c *Client) TidyEnr(ctx context.Context, raw model.Table) (model.Table, error) {
	if len(raw.Columns) == 0 {
		return model.Table{}, ErrEmptyTable
	}
	tidy, err := c.provider.TidyEnrollment(ctx, raw)
	if err != nil {
		return model.Table{}, fmt.Errorf("rischooldata: tidy_enr: %w", err)
	}
	return tidy, nil
}

func checkYear(year int, available model.AvailableYears) error {
	if !available.Contains(year) {
		return &InvalidYearError{Year: year, Range: available}
	}
	return nil
}

// fetchYear shares one load between concurrent callers of the same key. The
// shared load runs detached from any single caller's cancellation; each
// caller stops waiting when its own context ends.
func (c *Client) fetchYear(ctx context.Context, year int, tidy bool) (model.Table, error) {
	key := store.TableKey{Provider: c.provider.Name(), EndYear: year, Tidy: tidy}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.loadOrFetch(detached, key)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		op := "fetch_enr"
		if !tidy {
			op = "fetch_raw"
		}
		return model.Table{}, fmt.Errorf("rischooldata: %s(%d): %w", op, year, ctx.Err())
	case result = <-ch:
	}
	if result.Err != nil {
		return model.Table{}, result.Err
	}
	table := result.Val.(model.Table)
	if result.Shared {
		table = table.Clone()
	}
	return table, nil
}

func (c *Client) loadOrFetch(ctx context.Context, key store.TableKey) (model.Table, error) {
	if c.store != nil && !c.refresh {
		table, meta, err := c.store.LoadTable(ctx, key)
		switch {
		case err == nil:
			if verifyErr := verifyTable(table, key); verifyErr == nil {
				c.logger.Debug("enrollment served from store",
					"key", key.String(), "rows", table.Len(), "fetch_id", meta.FetchID, "fetched_at", meta.FetchedAt)
				return table, nil
			}
			c.logger.Warn("stored table failed verification, refetching", "key", key.String())
		case !errors.Is(err, store.ErrNotFound):
			c.logger.Warn("store lookup failed", "key", key.String(), "error", err)
		}
	}

	op := "fetch_enr"
	if !key.Tidy {
		op = "fetch_raw"
	}

	started := time.Now()
	table, err := c.provider.FetchEnrollment(ctx, key.EndYear, providers.FetchOptions{
		Tidy:     key.Tidy,
		UseCache: !c.refresh,
	})
	if err != nil {
		return model.Table{}, fmt.Errorf("rischooldata: %s(%d): %w", op, key.EndYear, err)
	}
	if err := verifyTable(table, key); err != nil {
		return model.Table{}, err
	}
	c.logger.Debug("enrollment fetched",
		"key", key.String(), "rows", table.Len(), "duration", time.Since(started).Round(time.Millisecond))

	if c.store != nil {
		if _, err := c.store.SaveTable(ctx, key, table); err != nil {
			if c.strictStore {
				return model.Table{}, fmt.Errorf("%w: %s: %v", ErrStoreSave, key, err)
			}
			c.logger.Warn("store save failed", "key", key.String(), "error", err)
		}
	}
	return table, nil
}

// verifyTable checks a table is non-empty and holds only rows for the
// requested year. Raw tables are only year-checked when they carry end_year.
func verifyTable(table model.Table, key store.TableKey) error {
	if table.Empty() {
		return fmt.Errorf("%w: no rows for %d", ErrProviderContract, key.EndYear)
	}
	if !key.Tidy && table.Column(model.ColumnEndYear) < 0 {
		return nil
	}
	years, err := table.Years()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderContract, err)
	}
	if len(years) != 1 || years[0] != key.EndYear {
		return fmt.Errorf("%w: asked for %d, got end years %v", ErrProviderContract, key.EndYear, years)
	}
	return nil
}
