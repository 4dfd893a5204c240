// Package export writes enrollment tables in the formats the CLI and HTTP
// surface offer, and reads CSV tables back.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/almartin82/rischooldata/internal/model"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
	FormatTable Format = "table"
)

var ErrUnknownFormat = errors.New("export: unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "csv", "":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "table", "text":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

// Extension returns the file extension conventionally used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatTable:
		return ".txt"
	default:
		return "." + string(f)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatTable:
		return "text/plain; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

func Write(w io.Writer, table model.Table, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, table)
	case FormatJSON:
		return WriteJSON(w, table)
	case FormatXLSX:
		return WriteXLSX(w, table)
	case FormatTable:
		return WriteText(w, table, 0)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
