package compute

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Column describes one result column.
type Column struct {
	Name string
	Type string
}

// Table is a fully materialized query result.
type Table struct {
	Columns []Column
	Rows    [][]string
}

// ColumnNames returns the header row.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Value returns the cell at row, column name.
func (t *Table) Value(row int, column string) (string, bool) {
	if row < 0 || row >= len(t.Rows) {
		return "", false
	}
	for i, c := range t.Columns {
		if c.Name == column && i < len(t.Rows[row]) {
			return t.Rows[row][i], true
		}
	}
	return "", false
}

// String renders the table in the bordered style of DataFrame.show().
func (t *Table) String() string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	tbl := table.New().
		Border(lipgloss.ASCIIBorder()).
		StyleFunc(func(row, col int) lipgloss.Style { return cell }).
		Headers(t.ColumnNames()...).
		Rows(t.Rows...)
	return tbl.String()
}

// formatCell renders a decoded JSON value the way Spark prints it.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", x)
	}
}

func rowsFromJSON(data [][]any) [][]string {
	rows := make([][]string, 0, len(data))
	for _, r := range data {
		row := make([]string, len(r))
		for i, v := range r {
			row[i] = formatCell(v)
		}
		rows = append(rows, row)
	}
	return rows
}

// cleanTypeName strips the JSON quoting the command API puts around simple
// type names ("\"string\"" -> "string").
func cleanTypeName(t string) string {
	return strings.Trim(t, `"`)
}

// rowsFromStrings copies JSON_ARRAY statement rows. The API encodes every
// cell as a string; SQL NULL decodes to "".
func rowsFromStrings(data [][]string) [][]string {
	rows := make([][]string, 0, len(data))
	for _, r := range data {
		rows = append(rows, append([]string(nil), r...))
	}
	return rows
}
