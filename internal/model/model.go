package model

import (
	"errors"
	"fmt"
)

const (
	ColumnEndYear      = "end_year"
	ColumnType         = "type"
	ColumnDistrictID   = "district_id"
	ColumnCampusID     = "campus_id"
	ColumnDistrictName = "district_name"
	ColumnCampusName   = "campus_name"
	ColumnGradeLevel   = "grade_level"
	ColumnSubgroup     = "subgroup"
	ColumnNStudents    = "n_students"
	ColumnPct          = "pct"
	ColumnIsState      = "is_state"
	ColumnIsDistrict   = "is_district"
	ColumnIsCampus     = "is_campus"
)

const (
	GradeTotal         = "TOTAL"
	SubgroupTotal      = "total_enrollment"
	EntityTypeState    = "State"
	EntityTypeDistrict = "District"
	EntityTypeCampus   = "Campus"
)

var ErrMissingColumn = errors.New("model: missing required column")

// EnrollmentRecord is one row of a tidy enrollment table.
type EnrollmentRecord struct {
	EndYear      int               `json:"end_year"`
	Type         string            `json:"type,omitempty"`
	DistrictID   string            `json:"district_id,omitempty"`
	CampusID     string            `json:"campus_id,omitempty"`
	DistrictName string            `json:"district_name,omitempty"`
	CampusName   string            `json:"campus_name,omitempty"`
	GradeLevel   string            `json:"grade_level"`
	Subgroup     string            `json:"subgroup,omitempty"`
	NStudents    *float64          `json:"n_students"`
	Pct          *float64          `json:"pct,omitempty"`
	IsState      bool              `json:"is_state"`
	IsDistrict   bool              `json:"is_district"`
	IsCampus     bool              `json:"is_campus"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// IsStateTotal reports whether the record is the statewide all-grades,
// all-students row.
func (r EnrollmentRecord) IsStateTotal() bool {
	return r.IsState && r.Subgroup == SubgroupTotal && r.GradeLevel == GradeTotal
}

// AvailableYears holds the inclusive range of end years a provider can serve.
type AvailableYears struct {
	MinYear int `json:"min_year"`
	MaxYear int `json:"max_year"`
}

func (y AvailableYears) Contains(year int) bool {
	return year >= y.MinYear && year <= y.MaxYear
}

func (y AvailableYears) Validate() error {
	if y.MinYear >= y.MaxYear {
		return fmt.Errorf("model: min_year %d must be less than max_year %d", y.MinYear, y.MaxYear)
	}
	return nil
}

// Years lists every year in the range, ascending.
func (y AvailableYears) Years() []int {
	if y.MaxYear < y.MinYear {
		return []int{}
	}
	years := make([]int, 0, y.MaxYear-y.MinYear+1)
	for year := y.MinYear; year <= y.MaxYear; year++ {
		years = append(years, year)
	}
	return years
}

func (y AvailableYears) String() string {
	return fmt.Sprintf("%d-%d", y.MinYear, y.MaxYear)
}
