package export

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"

	"github.com/almartin82/rischooldata/internal/model"
)

// WriteJSON writes the table as an array of objects keyed by column name,
// preserving column order. Numeric-looking cells are written as numbers,
// TRUE/FALSE as booleans and empty cells as null.
func WriteJSON(w io.Writer, table model.Table) error {
	buffered := bufio.NewWriter(w)
	if _, err := buffered.WriteString("["); err != nil {
		return err
	}
	keys := make([][]byte, len(table.Columns))
	for i, column := range table.Columns {
		encoded, err := json.Marshal(column)
		if err != nil {
			return err
		}
		keys[i] = encoded
	}

	for i, row := range table.Rows {
		if i > 0 {
			buffered.WriteString(",")
		}
		buffered.WriteString("\n  {")
		for j := range table.Columns {
			if j > 0 {
				buffered.WriteString(",")
			}
			buffered.Write(keys[j])
			buffered.WriteString(":")
			value := ""
			if j < len(row) {
				value = row[j]
			}
			encoded, err := jsonValue(value)
			if err != nil {
				return err
			}
			buffered.Write(encoded)
		}
		buffered.WriteString("}")
	}
	if len(table.Rows) > 0 {
		buffered.WriteString("\n")
	}
	buffered.WriteString("]\n")
	return buffered.Flush()
}

func jsonValue(value string) ([]byte, error) {
	switch value {
	case "", "NA":
		return []byte("null"), nil
	case "TRUE":
		return []byte("true"), nil
	case "FALSE":
		return []byte("false"), nil
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && isPlainNumber(value) {
		return json.Marshal(parsed)
	}
	return json.Marshal(value)
}

// isPlainNumber rejects forms ParseFloat accepts but that are identifiers in
// the data, such as "Inf", "0x1F" or district ids with leading zeros.
func isPlainNumber(value string) bool {
	digits := 0
	for i, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' && i == 0:
		case r == '.':
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	trimmed := value
	if trimmed[0] == '-' {
		trimmed = trimmed[1:]
	}
	if len(trimmed) > 1 && trimmed[0] == '0' && trimmed[1] != '.' {
		return false
	}
	return true
}
