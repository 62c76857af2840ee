// Package dataset reads and writes the tabular files the batch works on:
// CSV (in any WHATWG-named encoding) and XLSX workbooks.
package dataset

import (
	"fmt"
	"strings"

	"github.com/sells-group/geocluster/pkg/geocode"
)

// Column names recognized in input files.
const (
	ColumnCity       = "city"
	ColumnCountry    = "country"
	ColumnPostalCode = "postal_code"
)

// Table is a header plus rows of string cells. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// New builds a table from a header and raw rows, padding short rows and
// cutting long ones to the header width.
func New(columns []string, rows [][]string) *Table {
	t := &Table{Columns: columns, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, fit(r, len(columns)))
	}
	return t
}

func fit(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool { return t.Index(name) >= 0 }

// Value returns the cell of row i in column name, or "" when the column is
// absent.
func (t *Table) Value(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 {
		return ""
	}
	return t.Rows[i][idx]
}

// SchemaError reports input that cannot be resolved at all: a missing
// required column or rows with a blank city.
type SchemaError struct {
	Missing []string
	// BlankRows holds 1-based data row numbers with an empty city.
	BlankRows []int
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required column "+strings.Join(e.Missing, ", "))
	}
	if len(e.BlankRows) > 0 {
		nums := make([]string, len(e.BlankRows))
		for i, n := range e.BlankRows {
			nums[i] = fmt.Sprint(n)
		}
		parts = append(parts, "blank "+ColumnCity+" in rows "+strings.Join(nums, ", "))
	}
	return "dataset: " + strings.Join(parts, "; ")
}

// Queries validates the table and returns one query per row. country and
// postal_code are optional columns; a table without them yields queries
// with those parts empty.
func (t *Table) Queries() ([]geocode.LocationQuery, error) {
	cityIdx := t.Index(ColumnCity)
	if cityIdx < 0 {
		return nil, &SchemaError{Missing: []string{ColumnCity}}
	}

	var blank []int
	out := make([]geocode.LocationQuery, len(t.Rows))
	for i := range t.Rows {
		q, err := geocode.NewLocationQuery(
			t.Rows[i][cityIdx],
			t.Value(i, ColumnCountry),
			t.Value(i, ColumnPostalCode),
		)
		if err != nil {
			blank = append(blank, i+1)
			continue
		}
		out[i] = q
	}
	if len(blank) > 0 {
		return nil, &SchemaError{BlankRows: blank}
	}
	return out, nil
}

// WithColumns returns a copy of t with extra columns appended. Columns of t
// that share a name with extra are dropped first, so every name stays unique.
// values is called once per row and must return len(extra) cells.
func (t *Table) WithColumns(extra []string, values func(i int) []string) *Table {
	base := t.Without(extra...)
	cols := make([]string, 0, len(base.Columns)+len(extra))
	cols = append(cols, base.Columns...)
	cols = append(cols, extra...)

	out := &Table{Columns: cols, Rows: make([][]string, len(base.Rows))}
	for i, r := range base.Rows {
		row := make([]string, 0, len(cols))
		row = append(row, r...)
		row = append(row, fit(values(i), len(extra))...)
		out.Rows[i] = row
	}
	return out
}

// Select projects the listed columns in order, skipping any that are absent.
func (t *Table) Select(columns ...string) *Table {
	var keep []int
	var names []string
	for _, c := range columns {
		if idx := t.Index(c); idx >= 0 {
			keep = append(keep, idx)
			names = append(names, c)
		}
	}
	out := &Table{Columns: names, Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		row := make([]string, len(keep))
		for j, idx := range keep {
			row[j] = r[idx]
		}
		out.Rows[i] = row
	}
	return out
}

// Without returns a copy of t minus every column named in columns.
func (t *Table) Without(columns ...string) *Table {
	drop := make(map[string]bool, len(columns))
	for _, c := range columns {
		drop[c] = true
	}
	var keep []int
	out := &Table{Rows: make([][]string, len(t.Rows))}
	for i, c := range t.Columns {
		if !drop[c] {
			keep = append(keep, i)
			out.Columns = append(out.Columns, c)
		}
	}
	for i, r := range t.Rows {
		row := make([]string, len(keep))
		for j, idx := range keep {
			row[j] = r[idx]
		}
		out.Rows[i] = row
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := &Table{Columns: t.Columns}
	for i, r := range t.Rows {
		if keep(i) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
