package main

import (
	"errors"
	"fmt"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/providers/remote"
	"github.com/almartin82/rischooldata/internal/providers/rscript"
)

const (
	exitFailure        = 1
	exitInvalidInput   = 2
	exitProviderFailed = 3
	exitPartialFailure = 4
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// withExitCode attaches the exit code that matches err's kind.
func withExitCode(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	var scriptErr *rscript.ScriptError
	switch {
	case errors.Is(err, rischooldata.ErrInvalidYear),
		errors.Is(err, rischooldata.ErrEmptyYears),
		errors.Is(err, rischooldata.ErrEmptyTable),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, export.ErrNoHeader):
		return &ExitError{Code: exitInvalidInput, Err: err}
	case errors.Is(err, providers.ErrYearUnavailable),
		errors.Is(err, rischooldata.ErrProviderContract),
		errors.Is(err, rischooldata.ErrInvalidYearRange),
		errors.Is(err, rscript.ErrRscriptNotFound),
		errors.Is(err, rscript.ErrPackageNotInstalled),
		errors.Is(err, remote.ErrUnauthorized),
		errors.Is(err, remote.ErrRateLimited),
		errors.As(err, &scriptErr):
		return &ExitError{Code: exitProviderFailed, Err: err}
	default:
		return &ExitError{Code: exitFailure, Err: err}
	}
}
