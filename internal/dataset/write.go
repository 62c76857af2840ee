package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteCSV writes t as comma-separated UTF-8 text with a header row.
func WriteCSV(w io.Writer, t *Table) error {
	return writeDelimited(w, t, ',')
}

// WriteTSV writes t as tab-separated text, the format spreadsheets accept
// from the clipboard.
func WriteTSV(w io.Writer, t *Table) error {
	return writeDelimited(w, t, '\t')
}

// TSV renders t with WriteTSV into a string.
func TSV(t *Table) string {
	var sb strings.Builder
	_ = WriteTSV(&sb, t)
	return sb.String()
}

func writeDelimited(w io.Writer, t *Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "dataset: write header")
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "dataset: write rows")
	}
	return nil
}

// Sheet is one named worksheet of an exported workbook. Cells of the
// Numeric columns that parse as numbers are stored as numbers; everything
// else stays text so codes like postal numbers keep leading zeros.
type Sheet struct {
	Name    string
	Table   *Table
	Numeric []string
}

// maxSheetName is the worksheet name limit imposed by Excel.
const maxSheetName = 31

// NewWorkbook builds an XLSX file holding the given sheets in order.
func NewWorkbook(sheets []Sheet) (*xlsx.File, error) {
	f := xlsx.NewFile()
	for _, s := range sheets {
		name := s.Name
		if len([]rune(name)) > maxSheetName {
			name = string([]rune(name)[:maxSheetName])
		}
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: add sheet %q", name)
		}
		numeric := make([]bool, len(s.Table.Columns))
		for _, c := range s.Numeric {
			if idx := s.Table.Index(c); idx >= 0 {
				numeric[idx] = true
			}
		}
		addRow(sheet, s.Table.Columns, nil)
		for _, r := range s.Table.Rows {
			addRow(sheet, r, numeric)
		}
	}
	return f, nil
}

func addRow(sheet *xlsx.Sheet, cells []string, numeric []bool) {
	row := sheet.AddRow()
	for i, v := range cells {
		cell := row.AddCell()
		if i < len(numeric) && numeric[i] {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				cell.SetFloat(n)
				continue
			}
		}
		cell.SetString(v)
	}
}

// WriteXLSX writes a workbook of sheets to w.
func WriteXLSX(w io.Writer, sheets []Sheet) error {
	f, err := NewWorkbook(sheets)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

// SaveXLSX writes a workbook of sheets to path.
func SaveXLSX(path string, sheets []Sheet) error {
	f, err := NewWorkbook(sheets)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Save(path), "xlsx: save workbook")
}
