package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":  rischooldata.Version,
		"provider": s.client.Provider().Name(),
	})
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := s.client.GetAvailableYears(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleEnrollment(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: year must be an integer", errBadRequest))
		return
	}
	format, err := requestFormat(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var table model.Table
	if r.URL.Query().Get("raw") == "true" {
		table, err = s.client.FetchRaw(r.Context(), year)
	} else {
		table, err = s.client.FetchEnr(r.Context(), year)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeTable(w, r, table, format, fmt.Sprintf("enrollment_%d", year))
}

func (s *Server) handleEnrollmentMulti(w http.ResponseWriter, r *http.Request) {
	years, err := parseYears(r.URL.Query().Get("years"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	format, err := requestFormat(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	table, err := s.client.FetchEnrMulti(r.Context(), years)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeTable(w, r, table, format, "enrollment")
}

func (s *Server) handleTidy(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	raw, err := export.ReadCSV(http.MaxBytesReader(w, r.Body, maxTidyBody))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	table, err := s.client.TidyEnr(r.Context(), raw)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeTable(w, r, table, format, "enrollment_tidy")
}

// requestFormat reads ?format=, defaulting to json for the API.
func requestFormat(r *http.Request) (export.Format, error) {
	value := r.URL.Query().Get("format")
	if value == "" {
		return export.FormatJSON, nil
	}
	format, err := export.ParseFormat(value)
	if err != nil {
		return "", err
	}
	if format == export.FormatTable {
		return "", fmt.Errorf("%w: format %q is not served over http", errBadRequest, value)
	}
	return format, nil
}

func parseYears(value string) ([]int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, rischooldata.ErrEmptyYears
	}
	parts := strings.Split(value, ",")
	years := make([]int, 0, len(parts))
	for _, part := range parts {
		year, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid year %q", errBadRequest, part)
		}
		years = append(years, year)
	}
	return years, nil
}

func writeTable(w http.ResponseWriter, r *http.Request, table model.Table, format export.Format, name string) {
	w.Header().Set("Content-Type", format.ContentType())
	if format != export.FormatJSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, name, format.Extension()))
	}
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, table, format); err != nil {
		// Headers are already sent; all that is left is to log.
		loggerFor(r).Error("response write failed", "format", format, "error", err)
	}
}
