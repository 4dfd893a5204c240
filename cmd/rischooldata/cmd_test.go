package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/config"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/providers/remote"
	"github.com/almartin82/rischooldata/internal/providers/rscript"
	"github.com/almartin82/rischooldata/internal/store"
	"github.com/almartin82/rischooldata/internal/store/sqlite"
)

type stubProvider struct {
	mu      sync.Mutex
	name    string
	errFor  map[int]error
	fetched []int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AvailableYears(ctx context.Context) (model.AvailableYears, error) {
	return model.AvailableYears{MinYear: 2011, MaxYear: 2025}, nil
}

func (p *stubProvider) FetchEnrollment(ctx context.Context, year int, opts providers.FetchOptions) (model.Table, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, year)
	p.mu.Unlock()
	if err := p.errFor[year]; err != nil {
		return model.Table{}, err
	}
	return stubTable(year), nil
}

func (p *stubProvider) TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error) {
	return stubTable(2024), nil
}

func (p *stubProvider) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fetched)
}

// stubTable has 3 + year%3 rows.
func stubTable(year int) model.Table {
	y := strconv.Itoa(year)
	table := model.NewTable("end_year", "type", "district_id", "district_name", "grade_level", "subgroup", "n_students", "is_state")
	table.AppendRow(y, "State", "", "Rhode Island", "TOTAL", "total_enrollment", "136154", "TRUE")
	for i := 0; i < 2+year%3; i++ {
		table.AppendRow(y, "District", fmt.Sprintf("%02d", i+1), "District "+strconv.Itoa(i), "TOTAL", "total_enrollment", "1000", "FALSE")
	}
	return table
}

func newTestApp(t *testing.T) (*app, *stubProvider) {
	t.Helper()
	t.Chdir(t.TempDir())

	stub := &stubProvider{name: "rscript", errFor: map[int]error{}}
	dbPath := filepath.Join(t.TempDir(), "test.db")

	a := newApp()
	a.newProvider = func(cfg *config.Config, st store.Store) (providers.Provider, error) {
		if cfg.Provider.Name == "snapshot" {
			return buildProvider(cfg, st)
		}
		return stub, nil
	}
	a.openStore = func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		return sqlite.New(dbPath)
	}
	return a, stub
}

func runCmd(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func TestYearsCommand(t *testing.T) {
	a, _ := newTestApp(t)

	out, err := runCmd(t, a, "years")
	if err != nil {
		t.Fatalf("years: %v", err)
	}
	if out != "2011 2025\n" {
		t.Errorf("output = %q, want %q", out, "2011 2025\n")
	}

	out, err = runCmd(t, a, "years", "--json")
	if err != nil {
		t.Fatalf("years --json: %v", err)
	}
	var years model.AvailableYears
	if err := json.Unmarshal([]byte(out), &years); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if years.MinYear != 2011 || years.MaxYear != 2025 {
		t.Errorf("years = %+v", years)
	}
}

func TestVersionCommand(t *testing.T) {
	a, _ := newTestApp(t)

	out, err := runCmd(t, a, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, rischooldata.Version) {
		t.Errorf("output %q does not contain version %s", out, rischooldata.Version)
	}
}

func TestFetchCommandCSV(t *testing.T) {
	a, _ := newTestApp(t)

	out, err := runCmd(t, a, "fetch", "2024")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	table, err := export.ReadCSV(strings.NewReader(out))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if table.Len() != stubTable(2024).Len() {
		t.Errorf("rows = %d, want %d", table.Len(), stubTable(2024).Len())
	}
	if got := table.Cell(1, "district_id"); got != "01" {
		t.Errorf("district_id = %q, want 01", got)
	}
}

func TestFetchCommandMultiToFile(t *testing.T) {
	a, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "out.json")

	if _, err := runCmd(t, a, "fetch", "2020", "2021", "-o", path); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := stubTable(2020).Len() + stubTable(2021).Len()
	if len(rows) != want {
		t.Fatalf("rows = %d, want %d", len(rows), want)
	}
	if rows[0]["end_year"] != float64(2020) || rows[len(rows)-1]["end_year"] != float64(2021) {
		t.Errorf("years out of order: first %v, last %v", rows[0]["end_year"], rows[len(rows)-1]["end_year"])
	}
}

func TestFetchCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"out of range", []string{"fetch", "2030"}, exitInvalidInput},
		{"not a number", []string{"fetch", "twenty"}, exitInvalidInput},
		{"bad format", []string{"fetch", "2024", "--format", "yaml"}, exitInvalidInput},
		{"xlsx to stdout", []string{"fetch", "2024", "--format", "xlsx"}, exitInvalidInput},
		{"bad log level", []string{"fetch", "2024", "--log-level", "loud"}, exitInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t)
			_, err := runCmd(t, a, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCode(err); got != tt.code {
				t.Errorf("exit code = %d, want %d (err: %v)", got, tt.code, err)
			}
		})
	}
}

func TestFetchCommandProviderFailure(t *testing.T) {
	a, stub := newTestApp(t)
	stub.errFor[2024] = errors.New("download failed")

	_, err := runCmd(t, a, "fetch", "2024")
	if got := exitCode(err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err: %v)", got, exitFailure, err)
	}
}

func TestTidyCommand(t *testing.T) {
	a, _ := newTestApp(t)
	input := filepath.Join(t.TempDir(), "raw.csv")
	if err := os.WriteFile(input, []byte("end_year,district_name,total\n2024,Providence,20000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, a, "tidy", "--input", input, "--format", "csv")
	if err != nil {
		t.Fatalf("tidy: %v", err)
	}
	if !strings.HasPrefix(out, "end_year,type,") {
		t.Errorf("output = %q", out)
	}
}

func TestTidyCommandYearFilter(t *testing.T) {
	input := filepath.Join(t.TempDir(), "raw.csv")
	if err := os.WriteFile(input, []byte("end_year,district_name,total\n2024,Providence,20000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		year string
		rows int
	}{
		{"2024", stubTable(2024).Len()},
		{"2023", 0},
	}
	for _, tt := range tests {
		t.Run(tt.year, func(t *testing.T) {
			a, _ := newTestApp(t)
			out, err := runCmd(t, a, "tidy", "--input", input, "--year", tt.year)
			if err != nil {
				t.Fatalf("tidy: %v", err)
			}
			table, err := export.ReadCSV(strings.NewReader(out))
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if table.Len() != tt.rows {
				t.Errorf("rows = %d, want %d", table.Len(), tt.rows)
			}
		})
	}
}

func TestCollectSkipsStoredYears(t *testing.T) {
	a, stub := newTestApp(t)

	out, err := runCmd(t, a, "collect", "--years", "2020,2021")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !strings.Contains(out, "success=2") {
		t.Errorf("output = %q, want success=2", out)
	}
	if stub.fetchCount() != 2 {
		t.Fatalf("fetches = %d, want 2", stub.fetchCount())
	}

	out, err = runCmd(t, a, "collect", "--years", "2020,2021,2022")
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if !strings.Contains(out, "skipped=2") || !strings.Contains(out, "success=1") {
		t.Errorf("output = %q, want skipped=2 and success=1", out)
	}
	if stub.fetchCount() != 3 {
		t.Errorf("fetches = %d, want 3", stub.fetchCount())
	}
}

func TestCollectPartialFailure(t *testing.T) {
	a, stub := newTestApp(t)
	stub.errFor[2021] = errors.New("server error")
	stub.errFor[2022] = fmt.Errorf("%w: not published", providers.ErrYearUnavailable)

	out, err := runCmd(t, a, "collect", "--from", "2020", "--to", "2022")
	if got := exitCode(err); got != exitPartialFailure {
		t.Fatalf("exit code = %d, want %d (err: %v)", got, exitPartialFailure, err)
	}
	for _, want := range []string{"success=1", "failed=1", "skipped=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

type saveFailStore struct {
	store.Store
	err error
}

func (s saveFailStore) SaveTable(ctx context.Context, key store.TableKey, table model.Table) (store.TableMeta, error) {
	return store.TableMeta{}, s.err
}

func TestCollectCountsSaveFailures(t *testing.T) {
	a, stub := newTestApp(t)
	open := a.openStore
	a.openStore = func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		st, err := open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return saveFailStore{Store: st, err: errors.New("disk full")}, nil
	}

	out, err := runCmd(t, a, "collect", "--years", "2020,2021")
	if got := exitCode(err); got != exitPartialFailure {
		t.Fatalf("exit code = %d, want %d (err: %v)", got, exitPartialFailure, err)
	}
	for _, want := range []string{"success=0", "failed=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
	if stub.fetchCount() != 2 {
		t.Errorf("fetches = %d, want 2", stub.fetchCount())
	}
}

func TestCollectPrune(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	st, err := a.openStore(ctx, config.StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []store.TableKey{
		{Provider: "rscript", EndYear: 2005, Tidy: true},
		{Provider: "rscript", EndYear: 2005, Tidy: false},
		{Provider: "rscript", EndYear: 2015, Tidy: true},
	} {
		if _, err := st.SaveTable(ctx, key, stubTable(key.EndYear)); err != nil {
			t.Fatalf("SaveTable(%s) error = %v", key, err)
		}
	}
	st.Close()

	out, err := runCmd(t, a, "collect", "--years", "2020", "--prune")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !strings.Contains(out, "pruned=2") {
		t.Errorf("output = %q, want pruned=2", out)
	}

	st, err = a.openStore(ctx, config.StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	years, err := st.ListYears(ctx, "rscript", true)
	if err != nil {
		t.Fatalf("ListYears() error = %v", err)
	}
	if want := []int{2015, 2020}; !reflect.DeepEqual(years, want) {
		t.Errorf("stored years = %v, want %v", years, want)
	}
	if raw, err := st.ListYears(ctx, "rscript", false); err != nil || len(raw) != 0 {
		t.Errorf("raw years = %v (err %v), want none", raw, err)
	}
}

func TestCollectRejectsSnapshot(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := runCmd(t, a, "collect", "--provider", "snapshot")
	if got := exitCode(err); got != exitInvalidInput {
		t.Errorf("exit code = %d, want %d", got, exitInvalidInput)
	}
}

func TestExportFromSnapshot(t *testing.T) {
	a, stub := newTestApp(t)
	if _, err := runCmd(t, a, "collect", "--years", "2020,2021"); err != nil {
		t.Fatalf("collect: %v", err)
	}
	fetched := stub.fetchCount()

	outDir := filepath.Join(t.TempDir(), "site")
	_, err := runCmd(t, a, "export", "--provider", "snapshot", "--out", outDir, "--formats", "csv,json", "--combined")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stub.fetchCount() != fetched {
		t.Errorf("export called the live provider %d times", stub.fetchCount()-fetched)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta exportMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Provider != "snapshot" || meta.GeneratedAt == "" {
		t.Errorf("meta = %+v", meta)
	}
	if !reflect.DeepEqual(meta.Years, []int{2020, 2021}) {
		t.Errorf("years = %v, want [2020 2021]", meta.Years)
	}
	wantFiles := []string{
		"enrollment_2020.csv", "enrollment_2020.json",
		"enrollment_2021.csv", "enrollment_2021.json",
		"enrollment_all.csv", "enrollment_all.json",
	}
	if !reflect.DeepEqual(meta.Files, wantFiles) {
		t.Errorf("files = %v, want %v", meta.Files, wantFiles)
	}
	for _, name := range wantFiles {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func readMeta(t *testing.T, dir string) exportMeta {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta exportMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	return meta
}

func TestExportFromGappedSnapshot(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := runCmd(t, a, "collect", "--years", "2015,2024"); err != nil {
		t.Fatalf("collect: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "site")
	if _, err := runCmd(t, a, "export", "--provider", "snapshot", "--out", outDir, "--formats", "csv"); err != nil {
		t.Fatalf("export: %v", err)
	}
	meta := readMeta(t, outDir)
	if !reflect.DeepEqual(meta.Years, []int{2015, 2024}) {
		t.Errorf("years = %v, want [2015 2024]", meta.Years)
	}
	if want := []string{"enrollment_2015.csv", "enrollment_2024.csv"}; !reflect.DeepEqual(meta.Files, want) {
		t.Errorf("files = %v, want %v", meta.Files, want)
	}

	_, err := runCmd(t, a, "export", "--provider", "snapshot", "--out", outDir, "--years", "2016")
	if got := exitCode(err); got != exitProviderFailed {
		t.Errorf("explicit missing year exit code = %d, want %d (err: %v)", got, exitProviderFailed, err)
	}
}

func TestExportSnapshotOfRemoteCollect(t *testing.T) {
	a, stub := newTestApp(t)
	stub.name = "remote"
	t.Setenv("RISCHOOLDATA_PROVIDER_REMOTE_URL", "http://enrollment.internal:8080")
	t.Setenv("RISCHOOLDATA_PROVIDER_SNAPSHOT_SOURCE", "remote")

	if _, err := runCmd(t, a, "collect", "--provider", "remote", "--years", "2020,2021"); err != nil {
		t.Fatalf("collect: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "site")
	if _, err := runCmd(t, a, "export", "--provider", "snapshot", "--out", outDir, "--formats", "json"); err != nil {
		t.Fatalf("export: %v", err)
	}
	meta := readMeta(t, outDir)
	if meta.Provider != "snapshot" || !reflect.DeepEqual(meta.Years, []int{2020, 2021}) {
		t.Errorf("meta = %+v, want snapshot of 2020 and 2021", meta)
	}
}

func TestSelectYears(t *testing.T) {
	available := model.AvailableYears{MinYear: 2011, MaxYear: 2025}

	tests := []struct {
		name    string
		opts    collectOptions
		want    []int
		wantErr bool
	}{
		{"default history", collectOptions{historyYears: 1}, []int{2024, 2025}, false},
		{"latest only", collectOptions{historyYears: 0}, []int{2025}, false},
		{"history clamps to min", collectOptions{historyYears: 50}, available.Years(), false},
		{"all", collectOptions{all: true}, available.Years(), false},
		{"explicit", collectOptions{years: []int{2015, 2012}}, []int{2015, 2012}, false},
		{"explicit out of range", collectOptions{years: []int{2010}}, nil, true},
		{"from only", collectOptions{from: 2023}, []int{2023, 2024, 2025}, false},
		{"to only", collectOptions{to: 2012}, []int{2011, 2012}, false},
		{"inverted range", collectOptions{from: 2020, to: 2019}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectYears(available, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("selectYears() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.RscriptPath = filepath.Join(t.TempDir(), "no-such-Rscript")
	_, err := buildProvider(&cfg, nil)
	if !errors.Is(err, rscript.ErrRscriptNotFound) {
		t.Errorf("rscript without binary error = %v, want ErrRscriptNotFound", err)
	}
	if got := exitCode(withExitCode(err)); got != exitProviderFailed {
		t.Errorf("exit code = %d, want %d", got, exitProviderFailed)
	}

	cfg.Provider.Name = "remote"
	cfg.Provider.RemoteURL = "http://enrollment.internal:8080"
	provider, err := buildProvider(&cfg, nil)
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	closeProvider(provider)
	if _, err := provider.AvailableYears(context.Background()); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("closed remote provider error = %v, want ErrClosed", err)
	}
}

func TestWithExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid year", &rischooldata.InvalidYearError{Year: 1999}, exitInvalidInput},
		{"unknown format", export.ErrUnknownFormat, exitInvalidInput},
		{"unavailable", fmt.Errorf("x: %w", providers.ErrYearUnavailable), exitProviderFailed},
		{"contract", rischooldata.ErrProviderContract, exitProviderFailed},
		{"other", errors.New("boom"), exitFailure},
		{"already coded", &ExitError{Code: exitPartialFailure}, exitPartialFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(withExitCode(tt.err)); got != tt.want {
				t.Errorf("code = %d, want %d", got, tt.want)
			}
		})
	}
	if withExitCode(nil) != nil {
		t.Error("withExitCode(nil) should be nil")
	}
}
