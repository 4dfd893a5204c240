package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
)

type outputOptions struct {
	format string
	out    string
	limit  int
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "output format: csv, json, xlsx, table (default from --out extension, else csv)")
	cmd.Flags().StringVarP(&o.out, "out", "o", "", "write to file instead of stdout")
	cmd.Flags().IntVar(&o.limit, "limit", 20, "rows shown by the table format (0 = all)")
}

// resolve picks the output format, inferring it from the file extension
// when --format is not given.
func (o *outputOptions) resolve() (export.Format, error) {
	value := o.format
	if value == "" && o.out != "" {
		value = strings.TrimPrefix(filepath.Ext(o.out), ".")
	}
	return export.ParseFormat(value)
}

func (o *outputOptions) write(cmd *cobra.Command, table model.Table) error {
	format, err := o.resolve()
	if err != nil {
		return err
	}
	if format == export.FormatXLSX && o.out == "" {
		return fmt.Errorf("%w: xlsx output needs --out", export.ErrUnknownFormat)
	}

	var w io.Writer = cmd.OutOrStdout()
	if o.out != "" {
		file, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	if format == export.FormatTable {
		return export.WriteText(w, table, o.limit)
	}
	return export.Write(w, table, format)
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		output  outputOptions
		raw     bool
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "fetch YEAR [YEAR...]",
		Short: "Fetch enrollment for one or more end years",
		Long: `Fetch the enrollment table for one or more school years, identified by
the calendar year in which the school year ends (2024 is 2023-24).

One year calls fetch_enr; several years are validated up front and
concatenated in the order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYearArgs(args)
			if err != nil {
				return withExitCode(err)
			}
			if _, err := output.resolve(); err != nil {
				return withExitCode(err)
			}

			ctx := cmd.Context()
			client, release, err := a.client(ctx, refresh)
			if err != nil {
				return withExitCode(err)
			}
			defer release()

			var table model.Table
			switch {
			case raw:
				tables := make([]model.Table, 0, len(years))
				for _, year := range years {
					fetched, err := client.FetchRaw(ctx, year)
					if err != nil {
						return withExitCode(err)
					}
					tables = append(tables, fetched)
				}
				table = model.Concat(tables...)
			case len(years) == 1:
				table, err = client.FetchEnr(ctx, years[0])
			default:
				table, err = client.FetchEnrMulti(ctx, years)
			}
			if err != nil {
				return withExitCode(err)
			}
			return withExitCode(output.write(cmd, table))
		},
	}
	output.register(cmd)
	cmd.Flags().BoolVar(&raw, "raw", false, "return the wide table without the tidy transform")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore cached data and download again")
	return cmd
}

func newTidyCmd(a *app) *cobra.Command {
	var (
		output outputOptions
		input  string
		year   int
	)
	cmd := &cobra.Command{
		Use:   "tidy --input FILE",
		Short: "Convert a raw wide table to the tidy long format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readTable(input)
			if err != nil {
				return withExitCode(err)
			}

			client, release, err := a.client(cmd.Context(), false)
			if err != nil {
				return withExitCode(err)
			}
			defer release()

			tidy, err := client.TidyEnr(cmd.Context(), raw)
			if err != nil {
				return withExitCode(err)
			}
			if year != 0 {
				tidy = tidy.FilterYear(year)
			}
			return withExitCode(output.write(cmd, tidy))
		},
	}
	output.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "", "raw table as .csv or .xlsx (- reads csv from stdin)")
	cmd.Flags().IntVar(&year, "year", 0, "keep only rows for this end year")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readTable(path string) (model.Table, error) {
	if path == "-" {
		return export.ReadCSV(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return model.Table{}, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.ReadXLSX(file)
	}
	return export.ReadCSV(file)
}

func parseYearArgs(args []string) ([]int, error) {
	years := make([]int, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			year, err := strconv.Atoi(part)
			if err != nil {
				return nil, &ExitError{Code: exitInvalidInput, Err: fmt.Errorf("invalid year %q", part)}
			}
			years = append(years, year)
		}
	}
	return years, nil
}
