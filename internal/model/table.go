package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is an ordered sequence of uniformly shaped rows. Cells hold the text
// the provider emitted; an empty cell is NA.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func NewTable(columns ...string) Table {
	copied := make([]string, len(columns))
	copy(copied, columns)
	return Table{Columns: copied, Rows: make([][]string, 0)}
}

func (t Table) Len() int {
	return len(t.Rows)
}

func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Column returns the index of name, or -1.
func (t Table) Column(name string) int {
	for i, column := range t.Columns {
		if column == name {
			return i
		}
	}
	return -1
}

func (t Table) HasColumns(names ...string) bool {
	for _, name := range names {
		if t.Column(name) < 0 {
			return false
		}
	}
	return true
}

// Cell returns the value of column name in row i, or "" when the column is absent.
func (t Table) Cell(i int, name string) string {
	index := t.Column(name)
	if index < 0 || i < 0 || i >= len(t.Rows) || index >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][index]
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := NewTable(t.Columns...)
	out.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// AppendRow adds a row, padding or truncating it to the column count.
func (t *Table) AppendRow(cells ...string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Years returns the distinct end_year values, ascending.
func (t Table) Years() ([]int, error) {
	index := t.Column(ColumnEndYear)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnEndYear)
	}
	seen := make(map[int]struct{})
	for i, row := range t.Rows {
		year, err := parseYearCell(cellAt(row, index))
		if err != nil {
			return nil, fmt.Errorf("model: row %d: %w", i+1, err)
		}
		seen[year] = struct{}{}
	}
	years := make([]int, 0, len(seen))
	for year := range seen {
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}

// FilterYear returns the rows whose end_year equals year.
func (t Table) FilterYear(year int) Table {
	out := NewTable(t.Columns...)
	index := t.Column(ColumnEndYear)
	if index < 0 {
		return out
	}
	for _, row := range t.Rows {
		parsed, err := parseYearCell(cellAt(row, index))
		if err != nil || parsed != year {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Records decodes a tidy table into typed records. Columns outside the known
// tidy set are kept in Extra.
func (t Table) Records() ([]EnrollmentRecord, error) {
	for _, required := range []string{ColumnEndYear, ColumnNStudents, ColumnGradeLevel} {
		if t.Column(required) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	known := map[string]struct{}{
		ColumnEndYear: {}, ColumnType: {}, ColumnDistrictID: {}, ColumnCampusID: {},
		ColumnDistrictName: {}, ColumnCampusName: {}, ColumnGradeLevel: {},
		ColumnSubgroup: {}, ColumnNStudents: {}, ColumnPct: {}, ColumnIsState: {},
		ColumnIsDistrict: {}, ColumnIsCampus: {},
	}

	records := make([]EnrollmentRecord, 0, len(t.Rows))
	for i, row := range t.Rows {
		cell := func(name string) string {
			return cellAt(row, t.Column(name))
		}

		year, err := parseYearCell(cell(ColumnEndYear))
		if err != nil {
			return nil, fmt.Errorf("model: row %d: %w", i+1, err)
		}
		students, err := ParseNumber(cell(ColumnNStudents))
		if err != nil {
			return nil, fmt.Errorf("model: row %d: n_students: %w", i+1, err)
		}
		pct, err := ParseNumber(cell(ColumnPct))
		if err != nil {
			return nil, fmt.Errorf("model: row %d: pct: %w", i+1, err)
		}

		record := EnrollmentRecord{
			EndYear:      year,
			Type:         cell(ColumnType),
			DistrictID:   cell(ColumnDistrictID),
			CampusID:     cell(ColumnCampusID),
			DistrictName: cell(ColumnDistrictName),
			CampusName:   cell(ColumnCampusName),
			GradeLevel:   cell(ColumnGradeLevel),
			Subgroup:     cell(ColumnSubgroup),
			NStudents:    students,
			Pct:          pct,
			IsState:      ParseBool(cell(ColumnIsState)),
			IsDistrict:   ParseBool(cell(ColumnIsDistrict)),
			IsCampus:     ParseBool(cell(ColumnIsCampus)),
		}
		for j, column := range t.Columns {
			if _, ok := known[column]; ok {
				continue
			}
			if record.Extra == nil {
				record.Extra = make(map[string]string)
			}
			record.Extra[column] = cellAt(row, j)
		}
		records = append(records, record)
	}
	return records, nil
}

// StateTotal finds the statewide total row for year.
func (t Table) StateTotal(year int) (EnrollmentRecord, bool, error) {
	records, err := t.Records()
	if err != nil {
		return EnrollmentRecord{}, false, err
	}
	for _, record := range records {
		if record.EndYear == year && record.IsStateTotal() {
			return record, true, nil
		}
	}
	return EnrollmentRecord{}, false, nil
}

// Concat appends tables in order. The result's columns are the first table's
// columns followed by any column first seen in a later table; cells missing
// from a table are NA.
func Concat(tables ...Table) Table {
	columns := make([]string, 0)
	seen := make(map[string]struct{})
	total := 0
	for _, table := range tables {
		total += len(table.Rows)
		for _, column := range table.Columns {
			if _, ok := seen[column]; ok {
				continue
			}
			seen[column] = struct{}{}
			columns = append(columns, column)
		}
	}

	out := Table{Columns: columns, Rows: make([][]string, 0, total)}
	for _, table := range tables {
		mapping := make([]int, len(table.Columns))
		for i, column := range table.Columns {
			mapping[i] = out.Column(column)
		}
		for _, row := range table.Rows {
			merged := make([]string, len(columns))
			for i, value := range row {
				if i < len(mapping) {
					merged[mapping[i]] = value
				}
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// ParseNumber reads a numeric cell. Empty and NA cells yield nil.
func ParseNumber(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "NA") {
		return nil, nil
	}
	trimmed = strings.ReplaceAll(trimmed, ",", "")
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", value)
	}
	return &parsed, nil
}

func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "1", "yes", "y":
		return true
	default:
		return false
	}
}

func parseYearCell(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	year, err := strconv.Atoi(trimmed)
	if err != nil {
		// R may emit integer-valued doubles such as "2024.0".
		parsed, floatErr := strconv.ParseFloat(trimmed, 64)
		if floatErr != nil || parsed != float64(int(parsed)) {
			return 0, fmt.Errorf("invalid end_year %q", value)
		}
		year = int(parsed)
	}
	return year, nil
}

func cellAt(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return row[index]
}
