package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/almartin82/rischooldata/internal/model"
)

func sample() model.Table {
	table := model.NewTable("end_year", "district_id", "district_name", "n_students", "pct", "is_state")
	table.AppendRow("2024", "", "Rhode Island", "136154", "1", "TRUE")
	table.AppendRow("2024", "07", "Cranston, RI", "10212", "0.075", "FALSE")
	table.AppendRow("2024", "28", "Providence", "NA", "", "FALSE")
	return table
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{" JSON ", FormatJSON, false},
		{"xlsx", FormatXLSX, false},
		{"excel", FormatXLSX, false},
		{"table", FormatTable, false},
		{"text", FormatTable, false},
		{"parquet", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("error = %v, want ErrUnknownFormat", err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatMetadata(t *testing.T) {
	if got := FormatCSV.Extension(); got != ".csv" {
		t.Errorf("csv extension = %q", got)
	}
	if got := FormatTable.Extension(); got != ".txt" {
		t.Errorf("table extension = %q", got)
	}
	if got := FormatJSON.ContentType(); got != "application/json" {
		t.Errorf("json content type = %q", got)
	}
	if got := FormatCSV.ContentType(); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("csv content type = %q", got)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"Cranston, RI"`) {
		t.Errorf("comma in a cell should be quoted:\n%s", buf.String())
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if !reflect.DeepEqual(got, sample()) {
		t.Errorf("round trip = %+v, want %+v", got, sample())
	}
}

func TestReadCSV(t *testing.T) {
	t.Run("bom and short rows", func(t *testing.T) {
		got, err := ReadCSV(strings.NewReader("\xef\xbb\xbfa, b ,c\n1,2\n"))
		if err != nil {
			t.Fatalf("ReadCSV() error = %v", err)
		}
		if !reflect.DeepEqual(got.Columns, []string{"a", "b", "c"}) {
			t.Errorf("Columns = %q", got.Columns)
		}
		if !reflect.DeepEqual(got.Rows, [][]string{{"1", "2", ""}}) {
			t.Errorf("Rows = %q", got.Rows)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrNoHeader) {
			t.Errorf("error = %v, want ErrNoHeader", err)
		}
	})

	t.Run("long row", func(t *testing.T) {
		if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
			t.Error("expected error for a row longer than the header")
		}
	})
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sample()); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}

	tests := []struct {
		row    int
		column string
		want   interface{}
	}{
		{0, "end_year", float64(2024)},
		{0, "district_id", nil},
		{0, "is_state", true},
		{1, "district_id", "07"},
		{1, "pct", 0.075},
		{1, "is_state", false},
		{2, "n_students", nil},
	}
	for _, tt := range tests {
		if got := rows[tt.row][tt.column]; got != tt.want {
			t.Errorf("row %d %s = %#v, want %#v", tt.row, tt.column, got, tt.want)
		}
	}

	if !strings.HasPrefix(buf.String(), "[\n  {\"end_year\"") {
		t.Errorf("columns should keep table order:\n%s", buf.String())
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, model.NewTable("a")); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("empty output = %q, want %q", buf.String(), "[]\n")
	}
}

func TestIsPlainNumber(t *testing.T) {
	tests := map[string]bool{
		"0":    true,
		"42":   true,
		"-3.5": true,
		"0.25": true,
		"07":   false,
		"Inf":  false,
		"0x1F": false,
		"1e5":  false,
		"":     false,
		"-":    false,
		"12ab": false,
	}
	for input, want := range tests {
		if got := isPlainNumber(input); got != want {
			t.Errorf("isPlainNumber(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sample()); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	got, err := ReadXLSX(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadXLSX() error = %v", err)
	}
	if !reflect.DeepEqual(got.Columns, sample().Columns) {
		t.Errorf("Columns = %v", got.Columns)
	}
	if got.Len() != 3 {
		t.Fatalf("rows = %d, want 3", got.Len())
	}
	if v := got.Cell(1, "district_id"); v != "07" {
		t.Errorf("district_id = %q, want 07", v)
	}
	if v := got.Cell(1, "district_name"); v != "Cranston, RI" {
		t.Errorf("district_name = %q", v)
	}
	if v := got.Cell(2, "n_students"); v != "" {
		t.Errorf("NA cell = %q, want empty", v)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sample(), 2); err != nil {
		t.Fatalf("WriteText() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "district_name") || !strings.Contains(out, "Cranston, RI") {
		t.Errorf("output missing header or row:\n%s", out)
	}
	if strings.Contains(out, "Providence") {
		t.Errorf("limit 2 should hide the third row:\n%s", out)
	}
	if !strings.Contains(out, "... 1 more rows (3 total)") {
		t.Errorf("missing footer:\n%s", out)
	}
}

func TestWriteDispatch(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatJSON, FormatXLSX, FormatTable} {
		var buf bytes.Buffer
		if err := Write(&buf, sample(), format); err != nil {
			t.Errorf("Write(%s) error = %v", format, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Write(%s) wrote nothing", format)
		}
	}
	if err := Write(&bytes.Buffer{}, sample(), Format("yaml")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}
