package rischooldata

import (
	"errors"
	"fmt"

	"github.com/almartin82/rischooldata/internal/model"
)

var (
	ErrInvalidYear      = errors.New("rischooldata: invalid end year")
	ErrEmptyYears       = errors.New("rischooldata: no years requested")
	ErrEmptyTable       = errors.New("rischooldata: table has no columns")
	ErrProviderContract = errors.New("rischooldata: provider returned an invalid table")
	ErrInvalidYearRange = errors.New("rischooldata: provider reported an invalid year range")
	ErrStoreSave        = errors.New("rischooldata: store save failed")
)

// InvalidYearError reports a year outside the provider's available range.
type InvalidYearError struct {
	Year  int
	Range model.AvailableYears
}

func (e *InvalidYearError) Error() string {
	return fmt.Sprintf("rischooldata: end_year must be between %d and %d, got %d",
		e.Range.MinYear, e.Range.MaxYear, e.Year)
}

func (e *InvalidYearError) Unwrap() error {
	return ErrInvalidYear
}
