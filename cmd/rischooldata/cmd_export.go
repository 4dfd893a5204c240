package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
)

// exportMeta is written next to the exported tables as meta.json.
type exportMeta struct {
	GeneratedAt string   `json:"generated_at"`
	Version     string   `json:"version"`
	Provider    string   `json:"provider"`
	Years       []int    `json:"years"`
	Files       []string `json:"files"`
}

func newExportCmd(a *app) *cobra.Command {
	var (
		outDir   string
		formats  []string
		years    []int
		combined bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write tidy enrollment tables to a directory",
		Long: `Write one file per end year and format to --out, plus meta.json
describing the run. Without --years every available year is exported,
and years the provider cannot supply are skipped. Use the snapshot
provider to export what collect stored without calling R; it exports
exactly the stored years.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFormats(formats)
			if err != nil {
				return withExitCode(err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return withExitCode(fmt.Errorf("create output dir: %w", err))
			}

			ctx := cmd.Context()
			client, release, err := a.client(ctx, false)
			if err != nil {
				return withExitCode(err)
			}
			defer release()

			explicit := len(years) > 0
			if !explicit {
				years, err = exportYears(ctx, client)
				if err != nil {
					return withExitCode(err)
				}
			}

			meta := exportMeta{
				GeneratedAt: time.Now().UTC().Format(time.RFC3339),
				Version:     rischooldata.Version,
				Provider:    client.Provider().Name(),
				Years:       []int{},
			}
			tables := make([]model.Table, 0, len(years))
			for _, year := range years {
				table, err := client.FetchEnr(ctx, year)
				if err != nil {
					if !explicit && errors.Is(err, providers.ErrYearUnavailable) {
						slog.Warn("year unavailable, not exported", "end_year", year, "error", err)
						continue
					}
					return withExitCode(err)
				}
				tables = append(tables, table)
				meta.Years = append(meta.Years, year)
				for _, format := range parsed {
					name := fmt.Sprintf("enrollment_%d%s", year, format.Extension())
					if err := writeTableFile(filepath.Join(outDir, name), table, format); err != nil {
						return withExitCode(err)
					}
					meta.Files = append(meta.Files, name)
				}
			}
			if combined {
				all := model.Concat(tables...)
				for _, format := range parsed {
					name := "enrollment_all" + format.Extension()
					if err := writeTableFile(filepath.Join(outDir, name), all, format); err != nil {
						return withExitCode(err)
					}
					meta.Files = append(meta.Files, name)
				}
			}

			if err := writeMeta(filepath.Join(outDir, "meta.json"), meta); err != nil {
				return withExitCode(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf(
				"export complete (out=%s years=%d files=%d)", outDir, len(meta.Years), len(meta.Files))))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&outDir, "out", "o", "site/data", "output directory")
	flags.StringSliceVar(&formats, "formats", []string{"csv", "json"}, "formats to write: csv, json, xlsx")
	flags.IntSliceVar(&years, "years", nil, "end years to export (default all available)")
	flags.BoolVar(&combined, "combined", false, "also write every year into one enrollment_all file")
	return cmd
}

// yearLister is implemented by providers whose years can have gaps.
type yearLister interface {
	StoredYears(ctx context.Context) ([]int, error)
}

// exportYears lists the years to export when none are given: the stored
// years for a snapshot, otherwise the whole available range.
func exportYears(ctx context.Context, client *rischooldata.Client) ([]int, error) {
	if lister, ok := client.Provider().(yearLister); ok {
		return lister.StoredYears(ctx)
	}
	available, err := client.GetAvailableYears(ctx)
	if err != nil {
		return nil, err
	}
	return available.Years(), nil
}

func parseFormats(values []string) ([]export.Format, error) {
	seen := make(map[export.Format]struct{}, len(values))
	formats := make([]export.Format, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		format, err := export.ParseFormat(value)
		if err != nil {
			return nil, err
		}
		if format == export.FormatTable {
			return nil, fmt.Errorf("%w: table is for terminals only", export.ErrUnknownFormat)
		}
		if _, ok := seen[format]; ok {
			continue
		}
		seen[format] = struct{}{}
		formats = append(formats, format)
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("%w: no formats given", export.ErrUnknownFormat)
	}
	return formats, nil
}

func writeTableFile(path string, table model.Table, format export.Format) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Write(file, table, format); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func writeMeta(path string, meta exportMeta) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(meta)
}
