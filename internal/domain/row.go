package domain

import "strings"

// DataRow is one record derived from a spreadsheet row: an ordered mapping
// from column name to a display-ready string value. Rows are produced fresh
// per spreadsheet read and never mutated afterwards.
type DataRow struct {
	columns []string
	values  map[string]string
}

// NewDataRow builds a row from the header and the cell values in header
// order. Missing trailing cells become empty strings. When the header
// carries a duplicate column name, the last occurrence wins.
func NewDataRow(columns []string, cells []string) DataRow {
	values := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(cells) {
			values[col] = cells[i]
		} else {
			values[col] = ""
		}
	}
	return DataRow{
		columns: append([]string(nil), columns...),
		values:  values,
	}
}

// Columns returns the column names in header order.
func (r DataRow) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Get returns the value for a column and whether the column exists.
func (r DataRow) Get(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Value returns the value for a column, or the empty string when the
// column does not exist.
func (r DataRow) Value(column string) string {
	return r.values[column]
}

// Empty reports whether every cell of the row is empty or whitespace.
func (r DataRow) Empty() bool {
	for _, v := range r.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Len returns the number of columns.
func (r DataRow) Len() int {
	return len(r.columns)
}
