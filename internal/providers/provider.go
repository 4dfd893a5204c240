package providers

import (
	"context"
	"errors"

	"github.com/almartin82/rischooldata/internal/model"
)

// ErrYearUnavailable is wrapped by providers when the requested year is
// outside what they can serve.
var ErrYearUnavailable = errors.New("providers: year not available")

var ErrTidyUnsupported = errors.New("providers: tidy transform not supported")

type FetchOptions struct {
	Tidy     bool
	UseCache bool
}

type Provider interface {
	Name() string
	AvailableYears(ctx context.Context) (model.AvailableYears, error)
	FetchEnrollment(ctx context.Context, year int, opts FetchOptions) (model.Table, error)
	TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error)
}
