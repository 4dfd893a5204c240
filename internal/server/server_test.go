package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/almartin82/rischooldata"
	"github.com/almartin82/rischooldata/internal/config"
	"github.com/almartin82/rischooldata/internal/export"
	"github.com/almartin82/rischooldata/internal/model"
	"github.com/almartin82/rischooldata/internal/providers"
)

type stubProvider struct {
	fetchErr error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) AvailableYears(ctx context.Context) (model.AvailableYears, error) {
	return model.AvailableYears{MinYear: 2011, MaxYear: 2025}, nil
}

func (p *stubProvider) FetchEnrollment(ctx context.Context, year int, opts providers.FetchOptions) (model.Table, error) {
	if p.fetchErr != nil {
		return model.Table{}, p.fetchErr
	}
	y := strconv.Itoa(year)
	table := model.NewTable("end_year", "district_id", "grade_level", "subgroup", "n_students", "is_state")
	table.AppendRow(y, "", "TOTAL", "total_enrollment", "136154", "TRUE")
	table.AppendRow(y, "07", "TOTAL", "total_enrollment", "19856", "FALSE")
	return table, nil
}

func (p *stubProvider) TidyEnrollment(ctx context.Context, raw model.Table) (model.Table, error) {
	return p.FetchEnrollment(ctx, 2024, providers.FetchOptions{Tidy: true})
}

func newTestServer(p *stubProvider) *Server {
	cfg := config.Default().Server
	return New(rischooldata.New(p), cfg)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = do(t, s, http.MethodGet, "/api/version", "")
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != rischooldata.Version || body["provider"] != "stub" {
		t.Errorf("GET /api/version = %v", body)
	}
}

func TestYears(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodGet, "/api/years", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var years model.AvailableYears
	if err := json.NewDecoder(rec.Body).Decode(&years); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if years.MinYear != 2011 || years.MaxYear != 2025 {
		t.Errorf("years = %+v, want 2011-2025", years)
	}
}

func TestEnrollment(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodGet, "/api/enrollment/2024", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var rows []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["n_students"] != float64(136154) {
		t.Errorf("n_students = %v, want 136154", rows[0]["n_students"])
	}
	if rows[1]["district_id"] != "07" {
		t.Errorf("district_id = %v, want %q", rows[1]["district_id"], "07")
	}
	if rows[0]["is_state"] != true {
		t.Errorf("is_state = %v, want true", rows[0]["is_state"])
	}
}

func TestEnrollment_CSV(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodGet, "/api/enrollment/2024?format=csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	table, err := export.ReadCSV(rec.Body)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if table.Len() != 2 {
		t.Errorf("rows = %d, want 2", table.Len())
	}
}

func TestEnrollmentMulti(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodGet, "/api/enrollment?years=2020,2021&format=csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	table, err := export.ReadCSV(rec.Body)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	years, err := table.Years()
	if err != nil {
		t.Fatalf("Years() error = %v", err)
	}
	if len(years) != 2 || table.Len() != 4 {
		t.Errorf("years = %v rows = %d, want 2 years and 4 rows", years, table.Len())
	}
}

func TestTidy(t *testing.T) {
	s := newTestServer(&stubProvider{})

	rec := do(t, s, http.MethodPost, "/api/tidy", "end_year,district_name,row_total\n2024,Providence,19856\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/api/tidy", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		target   string
		status   int
		code     string
	}{
		{"year not integer", &stubProvider{}, "/api/enrollment/abc", http.StatusBadRequest, "bad_request"},
		{"year out of range", &stubProvider{}, "/api/enrollment/1800", http.StatusBadRequest, "invalid_year"},
		{"year in future", &stubProvider{}, "/api/enrollment/2099", http.StatusBadRequest, "invalid_year"},
		{"no years", &stubProvider{}, "/api/enrollment?years=", http.StatusBadRequest, "empty_years"},
		{"bad years list", &stubProvider{}, "/api/enrollment?years=2020,x", http.StatusBadRequest, "bad_request"},
		{"unknown format", &stubProvider{}, "/api/enrollment/2024?format=pdf", http.StatusBadRequest, "bad_request"},
		{"unavailable", &stubProvider{fetchErr: providers.ErrYearUnavailable}, "/api/enrollment/2024", http.StatusNotFound, "year_unavailable"},
		{"provider failure", &stubProvider{fetchErr: errors.New("boom")}, "/api/enrollment/2024", http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(tt.provider), http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp := decodeError(t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}
