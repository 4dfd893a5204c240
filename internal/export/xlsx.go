package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/almartin82/rischooldata/internal/model"
)

const SheetName = "enrollment"

func WriteXLSX(w io.Writer, table model.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	stream, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(table.Columns))
	for i, column := range table.Columns {
		header[i] = column
	}
	if err := stream.SetRow("A1", header); err != nil {
		return err
	}

	for i, row := range table.Rows {
		cells := make([]interface{}, len(table.Columns))
		for j := range table.Columns {
			value := ""
			if j < len(row) {
				value = row[j]
			}
			cells[j] = xlsxValue(value)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return fmt.Errorf("export: xlsx row %d: %w", i+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// ReadXLSX reads the enrollment sheet back into a table; every cell comes
// back as text.
func ReadXLSX(r io.Reader) (model.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return model.Table{}, err
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return model.Table{}, err
	}
	if len(rows) == 0 {
		return model.Table{}, ErrNoHeader
	}
	table := model.NewTable(rows[0]...)
	for _, row := range rows[1:] {
		table.AppendRow(row...)
	}
	return table, nil
}

func xlsxValue(value string) interface{} {
	switch value {
	case "", "NA":
		return nil
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if isPlainNumber(value) {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return value
}
