package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/store"
)

type collectOptions struct {
	from         int
	to           int
	years        []int
	all          bool
	historyYears int
	refresh      bool
	raw          bool
	prune        bool
}

type collectSummary struct {
	requested int
	success   int
	failed    int
	skipped   int
	rows      int
	pruned    int
}

func newCollectCmd(a *app) *cobra.Command {
	var opts collectOptions
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch enrollment years into the configured store",
		Long: `Fetch enrollment tables and save them in the configured store so later
runs, the snapshot provider and the HTTP server can read them offline.

Years already present in the store are skipped unless --refresh is set.
Without a year selection the latest year and --history-years before it
are collected. --prune deletes stored years the provider no longer offers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.EqualFold(a.cfg.Provider.Name, "snapshot") {
				return &ExitError{Code: exitInvalidInput, Err: errors.New("collect needs a live provider, not snapshot")}
			}

			ctx := cmd.Context()
			sc, err := a.storeClient(ctx, opts.refresh)
			if err != nil {
				return withExitCode(err)
			}
			defer sc.close()

			summary, err := runCollect(ctx, sc, opts)
			if err != nil {
				return withExitCode(err)
			}

			out := cmd.OutOrStdout()
			style := successStyle
			if summary.failed > 0 {
				style = errorStyle
			}
			fmt.Fprintln(out, style.Render(fmt.Sprintf(
				"collect complete (provider=%s requested=%d success=%d failed=%d rows=%d)",
				sc.provider.Name(), summary.requested, summary.success, summary.failed, summary.rows)))
			if summary.skipped > 0 {
				fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("collect skipped=%d", summary.skipped)))
			}
			if summary.pruned > 0 {
				fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("collect pruned=%d", summary.pruned)))
			}
			if summary.failed > 0 {
				return &ExitError{
					Code: exitPartialFailure,
					Err:  fmt.Errorf("%d of %d years failed", summary.failed, summary.requested),
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.from, "from", 0, "first end year to collect")
	flags.IntVar(&opts.to, "to", 0, "last end year to collect")
	flags.IntSliceVar(&opts.years, "years", nil, "explicit end years to collect")
	flags.BoolVar(&opts.all, "all", false, "collect every available year")
	flags.IntVar(&opts.historyYears, "history-years", 1, "years before the latest to collect when no selection is given")
	flags.BoolVar(&opts.refresh, "refresh", false, "refetch years already in the store")
	flags.BoolVar(&opts.raw, "raw", false, "also store the raw wide tables")
	flags.BoolVar(&opts.prune, "prune", false, "delete stored years outside the available range")
	cmd.MarkFlagsMutuallyExclusive("all", "years")
	cmd.MarkFlagsMutuallyExclusive("all", "from")
	cmd.MarkFlagsMutuallyExclusive("years", "from")
	return cmd
}

func runCollect(ctx context.Context, sc *storeClient, opts collectOptions) (collectSummary, error) {
	var summary collectSummary

	available, err := sc.client.GetAvailableYears(ctx)
	if err != nil {
		return summary, err
	}
	years, err := selectYears(available, opts)
	if err != nil {
		return summary, err
	}
	if opts.prune {
		if summary.pruned, err = pruneStore(ctx, sc, available); err != nil {
			return summary, err
		}
	}

	existing := map[int]struct{}{}
	if !opts.refresh {
		stored, err := sc.store.ListYears(ctx, sc.provider.Name(), true)
		if err != nil {
			return summary, err
		}
		for _, year := range stored {
			existing[year] = struct{}{}
		}
	}

	for _, year := range years {
		summary.requested++
		if _, ok := existing[year]; ok {
			summary.skipped++
			slog.Debug("skip stored year", "end_year", year)
			continue
		}

		table, err := sc.client.FetchEnr(ctx, year)
		if err == nil && opts.raw {
			_, err = sc.client.FetchRaw(ctx, year)
		}
		if err != nil {
			if errors.Is(err, providers.ErrYearUnavailable) {
				summary.skipped++
				slog.Warn("year unavailable", "end_year", year, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.failed++
			slog.Error("fetch failed", "end_year", year, "error", err)
			continue
		}
		summary.success++
		summary.rows += table.Len()
		slog.Info("year collected", "end_year", year, "rows", table.Len())
	}
	return summary, nil
}

// pruneStore deletes the provider's stored tables, tidy and raw, for years
// outside available. It returns the number of tables deleted.
func pruneStore(ctx context.Context, sc *storeClient, available model.AvailableYears) (int, error) {
	pruned := 0
	for _, tidy := range []bool{true, false} {
		stored, err := sc.store.ListYears(ctx, sc.provider.Name(), tidy)
		if err != nil {
			return pruned, err
		}
		for _, year := range stored {
			if available.Contains(year) {
				continue
			}
			key := store.TableKey{Provider: sc.provider.Name(), EndYear: year, Tidy: tidy}
			if err := sc.store.DeleteTable(ctx, key); err != nil {
				return pruned, fmt.Errorf("prune %s: %w", key, err)
			}
			pruned++
			slog.Info("pruned stored table", "key", key.String())
		}
	}
	return pruned, nil
}

// selectYears resolves the collect flags against the available range.
func selectYears(available model.AvailableYears, opts collectOptions) ([]int, error) {
	switch {
	case opts.all:
		return available.Years(), nil
	case len(opts.years) > 0:
		for _, year := range opts.years {
			if !available.Contains(year) {
				return nil, &rischooldata.InvalidYearError{Year: year, Range: available}
			}
		}
		return opts.years, nil
	case opts.from != 0 || opts.to != 0:
		from, to := opts.from, opts.to
		if from == 0 {
			from = available.MinYear
		}
		if to == 0 {
			to = available.MaxYear
		}
		if from > to {
			return nil, &ExitError{Code: exitInvalidInput, Err: fmt.Errorf("--from %d is after --to %d", from, to)}
		}
		for _, year := range []int{from, to} {
			if !available.Contains(year) {
				return nil, &rischooldata.InvalidYearError{Year: year, Range: available}
			}
		}
		return model.AvailableYears{MinYear: from, MaxYear: to}.Years(), nil
	default:
		from := available.MaxYear - max(opts.historyYears, 0)
		if from < available.MinYear {
			from = available.MinYear
		}
		return model.AvailableYears{MinYear: from, MaxYear: available.MaxYear}.Years(), nil
	}
}

// storeClient is a client that always reads through and writes to a store.
// A fetch whose table cannot be saved fails.
type storeClient struct {
	client   *rischooldata.Client
	store    store.Store
	provider providers.Provider
	close    func()
}

func (a *app) storeClient(ctx context.Context, refresh bool) (*storeClient, error) {
	st, err := a.openStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, err
	}
	provider, err := a.newProvider(a.cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	client := rischooldata.New(provider,
		rischooldata.WithStore(st),
		rischooldata.WithLogger(slog.Default()),
		rischooldata.WithRefresh(refresh),
		rischooldata.WithStrictStore(true),
	)
	return &storeClient{
		client:   client,
		store:    st,
		provider: provider,
		close: func() {
			closeProvider(provider)
			_ = st.Close()
		},
	}, nil
}
