// Package format renders aligned plain-text output for the CLI.
package format

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Table accumulates rows and renders them with display-width alignment, so
// CJK titles line up with ASCII cells in a terminal.
type Table struct {
	headers []string
	rows    [][]string
	maxCell int
}

// NewTable starts a table with the given header cells.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, maxCell: 60}
}

// SetMaxCell caps cell display width; longer values are truncated with an
// ellipsis. Zero or negative disables truncation.
func (t *Table) SetMaxCell(width int) {
	t.maxCell = width
}

// AddRow appends one row. Values are rendered with fmt.Sprint.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.rows = append(t.rows, row)
}

// Len reports the number of data rows added so far.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the aligned table including a header separator line.
func (t *Table) Render(w io.Writer) error {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return nil
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i := 0; i < len(cells) && i < cols; i++ {
			if cw := runewidth.StringWidth(t.clip(cells[i])); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	sep := make([]string, cols)
	for i, width := range widths {
		sep[i] = strings.Repeat("-", width)
	}

	if err := t.writeRow(w, t.headers, widths); err != nil {
		return err
	}
	if err := t.writeRow(w, sep, widths); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := t.writeRow(w, row, widths); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) writeRow(w io.Writer, cells []string, widths []int) error {
	var sb strings.Builder
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = t.clip(cells[i])
		}
		sb.WriteString(cell)
		last := i == len(widths)-1
		if last {
			continue
		}
		if pad := width - runewidth.StringWidth(cell); pad > 0 {
			sb.WriteString(strings.Repeat(" ", pad))
		}
		sb.WriteString("  ")
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func (t *Table) clip(s string) string {
	if t.maxCell <= 0 {
		return s
	}
	return runewidth.Truncate(s, t.maxCell, "…")
}

// Bytes renders a byte count with a binary-unit suffix.
func Bytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
