package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
)

// Options configures how an input file is parsed.
type Options struct {
	// Encoding is a WHATWG encoding label such as "windows-1250" or
	// "iso-8859-2". Empty means UTF-8. CSV only.
	Encoding string
	// Delimiter overrides the CSV separator. Defaults to ',' or '\t' for
	// .tsv files.
	Delimiter rune
	// SheetName selects an XLSX sheet by name; otherwise SheetIndex is used.
	SheetName  string
	SheetIndex int
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Open reads path as CSV, TSV or XLSX based on its extension.
func Open(path string, opts Options) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, opts)
	case ".tsv":
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
	case ".csv", ".txt", "":
	default:
		return nil, eris.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}

	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open file")
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(f, opts)
}

// ReadCSV parses delimited text. The first record is the header; header
// names are trimmed. Rows may be ragged and are fitted to the header.
func ReadCSV(r io.Reader, opts Options) (*Table, error) {
	if opts.Encoding != "" && !isUTF8(opts.Encoding) {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: unknown encoding %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv")
	}
	return fromRecords(records)
}

func isUTF8(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

// ReadXLSX reads one sheet of the workbook at path.
func ReadXLSX(path string, opts Options) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return readSheet(f, opts)
}

// ReadXLSXBytes reads one sheet of an in-memory workbook.
func ReadXLSXBytes(b []byte, opts Options) (*Table, error) {
	f, err := xlsx.OpenBinary(b)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	return readSheet(f, opts)
}

func readSheet(f *xlsx.File, opts Options) (*Table, error) {
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			records = append(records, nil)
			continue
		}
		records = append(records, rowToStrings(row))
	}
	return fromRecords(records)
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// fromRecords treats the first record as the header and drops fully empty
// trailing rows.
func fromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, eris.New("dataset: input has no header row")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	body := records[1:]
	for len(body) > 0 && emptyRecord(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	return New(header, body), nil
}

func emptyRecord(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
