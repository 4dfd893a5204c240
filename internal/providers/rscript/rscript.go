package rscript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
)

const (
	defaultRscriptPath    = "Rscript"
	defaultPackage        = "rischooldata"
	defaultTimeoutSeconds = 600
)

var (
	ErrRscriptNotFound     = errors.New("rscript: Rscript binary not found")
	ErrPackageNotInstalled = errors.New("rscript: R package not installed")
	ErrEmptyOutput         = errors.New("rscript: script produced no output")
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.]*$`)

type Config struct {
	RscriptPath  string
	Package      string
	LibPaths     []string
	Timeout      time.Duration
	DisableCache bool
	Env          []string
	Logger       *slog.Logger
}

// Provider calls the R package through one Rscript process per operation.
// Results are exchanged through files in a per-call temp directory so that
// anything the package prints to stdout cannot corrupt the payload.
type Provider struct {
	config Config
	logger *slog.Logger
}

// ScriptError reports a non-zero Rscript exit.
type ScriptError struct {
	Op       string
	ExitCode int
	Stderr   string
	cause    error
}

func (e *ScriptError) Error() string {
	message := lastErrorLine(e.Stderr)
	if message == "" {
		return fmt.Sprintf("rscript: %s exited with status %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("rscript: %s exited with status %d: %s", e.Op, e.ExitCode, message)
}

func (e *ScriptError) Unwrap() error {
	return e.cause
}

func New() (*Provider, error) {
	return NewWithConfig(Config{})
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.RscriptPath) == "" {
		cfg.RscriptPath = defaultRscriptPath
	}
	if strings.TrimSpace(cfg.Package) == "" {
		cfg.Package = defaultPackage
	}
	if !packageNamePattern.MatchString(cfg.Package) {
		return nil, fmt.Errorf("rscript: invalid package name %q", cfg.Package)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		config: cfg,
		logger: logger.With("provider", "rscript"),
	}, nil
}

func (p *Provider) Name() string {
	return "rscript"
}

// Available reports whether the Rscript binary can be found.
func (p *Provider) Available() bool {
	_, err := exec.LookPath(p.config.RscriptPath)
	return err == nil
}

func (p *Provider) AvailableYears(ctx context.Context) (model.AvailableYears, error) {
	body := []string{
		fmt.Sprintf(".years <- %s::get_available_years()", p.config.Package),
		`if (is.list(.years)) { .lo <- .years[["min_year"]]; .hi <- .years[["max_year"]] } else { .lo <- min(.years); .hi <- max(.years) }`,
		`writeLines(sprintf('{"min_year":%d,"max_year":%d}', as.integer(.lo), as.integer(.hi)), .out)`,
	}
	output, err := p.run(ctx, "get_available_years", body, nil)
	if err != nil {
		return model.AvailableYears{}, err
	}

	var years model.AvailableYears
	if err := json.Unmarshal(output, &years); err != nil {
		return model.AvailableYears{}, fmt.Errorf("rscript: decode available years: %w", err)
	}
	return years, nil
}

func (p *Provider) FetchEnrollment(ctx context.Context, year int, opts providers.FetchOptions) (model.Table, error) {
	useCache := opts.UseCache && !p.config.DisableCache
	body := []string{
		fmt.Sprintf(".df <- %s::fetch_enr(%d, tidy = %s, use_cache = %s)", p.config.Package, year, rBool(opts.Tidy), rBool(useCache)),
		writeCSVExpr(".df"),
	}
	output, err := p.run(ctx, "fetch_enr", body, nil)
	if err != nil {
		return model.Table{}, err
	}
	return decodeTable(output)
}

func (p *Provider) TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error) {
	var input bytes.Buffer
	if err := export.WriteCSV(&input, raw); err != nil {
		return model.Table{}, fmt.Errorf("rscript: encode raw table: %w", err)
	}
	body := []string{
		// Identifier columns stay character so leading zeros survive.
		`.hdr <- names(utils::read.csv(.input, nrows = 1, check.names = FALSE))`,
		`.classes <- stats::setNames(ifelse(grepl("_id$", .hdr), "character", NA), .hdr)`,
		`.raw <- utils::read.csv(.input, check.names = FALSE, stringsAsFactors = FALSE, na.strings = c("", "NA"), colClasses = .classes)`,
		fmt.Sprintf(".df <- %s::tidy_enr(.raw)", p.config.Package),
		writeCSVExpr(".df"),
	}
	output, err := p.run(ctx, "tidy_enr", body, input.Bytes())
	if err != nil {
		return model.Table{}, err
	}
	return decodeTable(output)
}

func (p *Provider) run(ctx context.Context, op string, body []string, input []byte) ([]byte, error) {
	rscriptPath, err := exec.LookPath(p.config.RscriptPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRscriptNotFound, p.config.RscriptPath)
	}

	workDir, err := os.MkdirTemp("", "rischooldata-*")
	if err != nil {
		return nil, fmt.Errorf("rscript: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	outPath := filepath.Join(workDir, "out")
	inPath := ""
	if input != nil {
		inPath = filepath.Join(workDir, "input.csv")
		if err := os.WriteFile(inPath, input, 0o600); err != nil {
			return nil, fmt.Errorf("rscript: write input: %w", err)
		}
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	script := p.buildScript(outPath, inPath, body)
	cmd := exec.CommandContext(ctx, rscriptPath, "-e", script)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), p.config.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err = cmd.Run()
	p.logger.Debug("Rscript finished",
		"op", op,
		"duration", time.Since(started).Round(time.Millisecond),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rscript: %s: %w", op, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, classify(op, exitErr.ExitCode(), stderr.String())
		}
		return nil, fmt.Errorf("rscript: %s: %w", op, err)
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w (%s)", ErrEmptyOutput, op)
		}
		return nil, fmt.Errorf("rscript: read output: %w", err)
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrEmptyOutput, op)
	}
	return output, nil
}

func (p *Provider) buildScript(outPath, inPath string, body []string) string {
	// scipen keeps write.csv from printing large counts as 1e+05.
	lines := []string{
		"options(warn = 1, scipen = 999)",
		fmt.Sprintf(".out <- %s", rQuote(outPath)),
	}
	if inPath != "" {
		lines = append(lines, fmt.Sprintf(".input <- %s", rQuote(inPath)))
	}
	if len(p.config.LibPaths) > 0 {
		quoted := make([]string, 0, len(p.config.LibPaths))
		for _, path := range p.config.LibPaths {
			quoted = append(quoted, rQuote(path))
		}
		lines = append(lines, fmt.Sprintf(".libPaths(c(%s, .libPaths()))", strings.Join(quoted, ", ")))
	}
	lines = append(lines,
		fmt.Sprintf(`if (!requireNamespace(%s, quietly = TRUE)) stop("there is no package called '%s'")`, rQuote(p.config.Package), p.config.Package),
	)
	lines = append(lines, body...)
	return strings.Join(lines, "\n")
}

func classify(op string, exitCode int, stderr string) error {
	scriptErr := &ScriptError{Op: op, ExitCode: exitCode, Stderr: stderr}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "there is no package called"):
		scriptErr.cause = ErrPackageNotInstalled
	case strings.Contains(lower, "end_year must be"),
		strings.Contains(lower, "must be between"),
		strings.Contains(lower, "not available"),
		strings.Contains(lower, "invalid year"):
		scriptErr.cause = providers.ErrYearUnavailable
	}
	return scriptErr
}

func decodeTable(output []byte) (model.Table, error) {
	table, err := export.ReadCSV(bytes.NewReader(output))
	if err != nil {
		return model.Table{}, fmt.Errorf("rscript: decode table: %w", err)
	}
	return table, nil
}

func writeCSVExpr(name string) string {
	return fmt.Sprintf(`utils::write.csv(as.data.frame(%s), file = .out, row.names = FALSE, na = "", fileEncoding = "UTF-8")`, name)
}

func rBool(value bool) string {
	if value {
		return "TRUE"
	}
	return "FALSE"
}

func rQuote(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + replacer.Replace(value) + `"`
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "Execution halted") {
			continue
		}
		return line
	}
	return ""
}

var _ providers.Provider = (*Provider)(nil)
