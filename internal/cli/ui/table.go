package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders rows under bold headers with aligned columns.
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{writer: w, headers: headers, noColor: noColor}
}

// AddRow adds a row; missing cells render empty and extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if t.noColor {
		bold.DisableColor()
		gray.DisableColor()
	}

	last := len(widths) - 1
	for i, h := range t.headers {
		bold.Fprint(t.writer, cell(h, widths[i], i == last))
		if i < last {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)
	for i, w := range widths {
		gray.Fprint(t.writer, strings.Repeat("─", w))
		if i < last {
			fmt.Fprint(t.writer, "  ")
		}
	}
	fmt.Fprintln(t.writer)
	for _, row := range t.rows {
		for i, c := range row {
			fmt.Fprint(t.writer, cell(c, widths[i], i == last))
			if i < last {
				fmt.Fprint(t.writer, "  ")
			}
		}
		fmt.Fprintln(t.writer)
	}
}

// cell pads s to width; the last column is never padded.
func cell(s string, width int, last bool) string {
	if last {
		return s
	}
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// KeyValueTable renders aligned "key: value" lines.
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	width := 0
	for _, k := range t.keys {
		width = max(width, utf8.RuneCountInString(k)+1)
	}
	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for i, k := range t.keys {
		cyan.Fprint(t.writer, cell(k+":", width, false))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}

// Header renders a styled title underlined to its width.
func Header(w io.Writer, title string, noColor bool) {
	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if noColor {
		bold.DisableColor()
		gray.DisableColor()
	}
	bold.Fprintln(w, title)
	gray.Fprintln(w, strings.Repeat("─", utf8.RuneCountInString(title)))
}
