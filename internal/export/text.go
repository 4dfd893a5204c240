package export

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/almartin82/rischooldata/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// WriteText renders the table for a terminal. limit caps the rendered rows
// (0 renders all) and a footer notes how many were left out.
func WriteText(w io.Writer, data model.Table, limit int) error {
	rows := data.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	rendered := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(data.Columns...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, row := range rows {
		rendered.Row(padRow(row, len(data.Columns))...)
	}

	if _, err := fmt.Fprintln(w, rendered.Render()); err != nil {
		return err
	}
	if hidden := len(data.Rows) - len(rows); hidden > 0 {
		_, err := fmt.Fprintf(w, "... %d more rows (%d total)\n", hidden, len(data.Rows))
		return err
	}
	return nil
}
