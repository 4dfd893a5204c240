package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/almartin82/rischooldata/internal/model"
)

var ErrNoHeader = errors.New("export: csv has no header row")

func WriteCSV(w io.Writer, table model.Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Columns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := writer.Write(padRow(row, len(table.Columns))); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV reads a header row followed by data rows. Rows shorter than the
// header are padded with NA; longer rows are an error.
func ReadCSV(r io.Reader) (model.Table, error) {
	reader := csv.NewReader(skipBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.Table{}, ErrNoHeader
		}
		return model.Table{}, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := model.NewTable(header...)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Table{}, err
		}
		line++
		if len(record) > len(header) {
			return model.Table{}, fmt.Errorf("export: csv line %d has %d fields, header has %d", line, len(record), len(header))
		}
		table.AppendRow(record...)
	}
	return table, nil
}

func skipBOM(r io.Reader) io.Reader {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(3); err == nil && string(prefix) == "\xef\xbb\xbf" {
		_, _ = buffered.Discard(3)
	}
	return buffered
}

func padRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
