package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/logging"
	"github.com/almartin82/rischooldata/internal/providers"
	"github.com/almartin82/rischooldata/internal/providers/remote"
	"github.com/almartin82/rischooldata/internal/providers/rscript"
	"github.com/almartin82/rischooldata/internal/providers/snapshot"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errBadRequest = errors.New("bad request")

// classify maps an error to a status code and a stable machine-readable code.
func classify(err error) (int, string) {
	var yearErr *rischooldata.InvalidYearError
	var scriptErr *rscript.ScriptError
	switch {
	case errors.As(err, &yearErr):
		return http.StatusBadRequest, "invalid_year"
	case errors.Is(err, rischooldata.ErrEmptyYears):
		return http.StatusBadRequest, "empty_years"
	case errors.Is(err, rischooldata.ErrEmptyTable):
		return http.StatusBadRequest, "empty_table"
	case errors.Is(err, export.ErrNoHeader),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, providers.ErrYearUnavailable):
		return http.StatusNotFound, "year_unavailable"
	case errors.Is(err, providers.ErrTidyUnsupported):
		return http.StatusNotImplemented, "tidy_unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, rischooldata.ErrProviderContract),
		errors.Is(err, rischooldata.ErrInvalidYearRange),
		errors.Is(err, rscript.ErrRscriptNotFound),
		errors.Is(err, rscript.ErrPackageNotInstalled),
		errors.Is(err, rscript.ErrEmptyOutput),
		errors.Is(err, snapshot.ErrNoSnapshot),
		errors.Is(err, remote.ErrUnauthorized),
		errors.Is(err, remote.ErrRateLimited),
		errors.As(err, &scriptErr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError logs the technical error with the request id and writes the
// JSON error body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}
